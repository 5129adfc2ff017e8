// Package gcpfunction implements the Adapter variant that invokes a Google
// Cloud Function over HTTPS, authenticated with a Google-signed OAuth2 ID
// token scoped to the function's own URL.
package gcpfunction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Adapter invokes a fixed Cloud Function URL, fetching a fresh ID token from
// the environment's default credentials for each call (the oauth2 transport
// caches and refreshes it internally).
type Adapter struct {
	client   *http.Client
	endpoint string
	health   *adapter.HealthTracker
}

// New constructs a GCP Function Adapter for one module registration.
func New(reg types.AdapterRegistration) (adapter.Adapter, error) {
	if reg.Endpoint == "" {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, "gcp function adapter requires an endpoint URL")
	}

	ctx := context.Background()
	ts, err := idTokenSource(ctx, reg.Endpoint)
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeInternal, "fetch GCP ID token source")
	}

	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Adapter{
		client:   &http.Client{Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport}, Timeout: timeout},
		endpoint: reg.Endpoint,
		health:   adapter.NewHealthTracker(0),
	}, nil
}

func idTokenSource(ctx context.Context, audience string) (oauth2.TokenSource, error) {
	return google.DefaultTokenSource(ctx, audience)
}

// Execute POSTs the wire payload to the function URL with an ID-token
// Authorization header attached automatically by the oauth2 transport.
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
		return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "marshal gcp function payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "build gcp function request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rterrors.Wrap(err, rterrors.CodeAdapterTimeout, "gcp function call timed out")
		}
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "gcp function call failed")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "read gcp function response")
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		var rp adapter.ResponsePayload
		if err := json.Unmarshal(body, &rp); err != nil {
			return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "decode gcp function response")
		}
		return adapter.ParseResponse(rp), nil
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, rterrors.New(rterrors.CodeSignatureMismatch, "gcp function rejected identity token")
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, rterrors.New(rterrors.CodeAdapterThrottled, fmt.Sprintf("gcp function throttled: status %d", httpResp.StatusCode))
	case httpResp.StatusCode >= 500:
		return nil, rterrors.New(rterrors.CodeAdapter5xx, fmt.Sprintf("gcp function server error: status %d", httpResp.StatusCode))
	default:
		return nil, rterrors.New(rterrors.CodeAdapter4xx, fmt.Sprintf("gcp function client error: status %d", httpResp.StatusCode))
	}
}

// Health reports the adapter's advisory health.
func (a *Adapter) Health(ctx context.Context) types.HealthStatus {
	return a.health.Status()
}
