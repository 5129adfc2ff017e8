package egress

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/config"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

const signatureHeader = "X-Waddlebot-Signature"

// WebhookTarget delivers egress messages by HTTP POST to a single platform
// endpoint, HMAC-SHA256 signing the body the same way the inbound webhook
// adapter signs outbound calls to modules.
type WebhookTarget struct {
	client *http.Client
	url    string
	secret string
}

// NewWebhookTarget builds a Target from one platform's configured endpoint.
func NewWebhookTarget(cfg config.EgressTargetCfg, timeout time.Duration) (*WebhookTarget, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("egress webhook target: empty url")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookTarget{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		secret: cfg.Secret,
	}, nil
}

type webhookPayload struct {
	EntityOverride string          `json:"entity_override,omitempty"`
	Message        string          `json:"message"`
	Data           map[string]any  `json:"data,omitempty"`
}

// Deliver POSTs the response message to the platform endpoint.
func (t *WebhookTarget) Deliver(ctx context.Context, target types.EgressTarget, resp *types.ExecuteResponse) error {
	body, err := json.Marshal(webhookPayload{
		EntityOverride: target.EntityOverride,
		Message:        resp.Message,
		Data:           resp.Data,
	})
	if err != nil {
		return rterrors.Wrap(err, rterrors.CodeInternal, "marshal egress payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return rterrors.Wrap(err, rterrors.CodeInternal, "build egress request")
	}
	req.Header.Set("Content-Type", "application/json")
	if t.secret != "" {
		req.Header.Set(signatureHeader, "sha256="+sign(t.secret, body))
	}

	resp2, err := t.client.Do(req)
	if err != nil {
		return rterrors.Wrap(err, rterrors.CodeNetwork, "egress delivery failed")
	}
	defer resp2.Body.Close()

	switch {
	case resp2.StatusCode >= 200 && resp2.StatusCode < 300:
		return nil
	case resp2.StatusCode == http.StatusTooManyRequests:
		return rterrors.New(rterrors.CodeAdapterThrottled, "egress target throttled")
	case resp2.StatusCode == http.StatusRequestTimeout:
		return rterrors.New(rterrors.CodeAdapterTimeout, "egress target timed out")
	case resp2.StatusCode >= 500:
		return rterrors.New(rterrors.CodeAdapter5xx, fmt.Sprintf("egress target returned %d", resp2.StatusCode))
	default:
		return rterrors.New(rterrors.CodeAdapter4xx, fmt.Sprintf("egress target returned %d", resp2.StatusCode))
	}
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
