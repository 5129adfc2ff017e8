// Package webhook implements the Adapter variant that POSTs a signed JSON
// payload to an HTTP endpoint: HMAC-SHA256 over the body, header format
// sha256=<hex>.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

const signatureHeader = "X-Waddlebot-Signature"

// Adapter POSTs the wire payload to a fixed endpoint URL with an HMAC
// signature over the body.
type Adapter struct {
	client     *http.Client
	endpoint   string
	signingKey string
	health     *adapter.HealthTracker
}

// New constructs a webhook Adapter for one module registration.
func New(reg types.AdapterRegistration) (adapter.Adapter, error) {
	if reg.Endpoint == "" {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, "webhook adapter requires an endpoint URL")
	}
	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if timeout > 30*time.Second {
		timeout = 30 * time.Second
	}
	return &Adapter{
		client:     &http.Client{Timeout: timeout},
		endpoint:   reg.Endpoint,
		signingKey: reg.SigningKey,
		health:     adapter.NewHealthTracker(0),
	}, nil
}

// Execute POSTs the request payload and parses the adapter's JSON response.
func (a *Adapter) Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	resp, err := a.do(ctx, req)
	if err != nil {
		a.health.RecordFailure()
		return nil, err
	}
	a.health.RecordSuccess()
	return resp, nil
}

func (a *Adapter) do(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	payload, err := json.Marshal(adapter.BuildPayload(req))
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "marshal webhook payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "build webhook request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.ID)

	if a.signingKey != "" {
		mac := hmac.New(sha256.New, []byte(a.signingKey))
		mac.Write(payload)
		httpReq.Header.Set(signatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rterrors.Wrap(err, rterrors.CodeAdapterTimeout, "webhook call timed out")
		}
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "webhook call failed")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "read webhook response")
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		var rp adapter.ResponsePayload
		if err := json.Unmarshal(body, &rp); err != nil {
			return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "decode webhook response")
		}
		return adapter.ParseResponse(rp), nil

	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, rterrors.New(rterrors.CodeAdapterThrottled, fmt.Sprintf("webhook throttled: status %d", httpResp.StatusCode))

	case httpResp.StatusCode == http.StatusRequestTimeout:
		return nil, rterrors.New(rterrors.CodeAdapterTimeout, "webhook request timeout")

	case httpResp.StatusCode >= 500:
		return nil, rterrors.New(rterrors.CodeAdapter5xx, fmt.Sprintf("webhook server error: status %d", httpResp.StatusCode))

	case httpResp.StatusCode == http.StatusUnauthorized:
		return nil, rterrors.New(rterrors.CodeSignatureMismatch, "webhook rejected signature")

	default:
		return nil, rterrors.New(rterrors.CodeAdapter4xx, fmt.Sprintf("webhook client error: status %d", httpResp.StatusCode))
	}
}

// Health reports the adapter's advisory health.
func (a *Adapter) Health(ctx context.Context) types.HealthStatus {
	return a.health.Status()
}
