// Package openwhisk implements the Adapter variant that invokes an Apache
// OpenWhisk action over its REST API using namespace basic auth.
package openwhisk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Adapter invokes a fixed OpenWhisk action URL (APIHost + action FQN baked
// into Endpoint) via REST with HTTP basic auth.
type Adapter struct {
	client    *http.Client
	actionURL string
	user      string
	pass      string
	blocking  bool
	health    *adapter.HealthTracker
}

// New constructs an OpenWhisk Adapter for one module registration. Endpoint
// is the full `/api/v1/namespaces/.../actions/...` action path; APIHost
// supplies the scheme and host when Endpoint is not already absolute.
func New(reg types.AdapterRegistration) (adapter.Adapter, error) {
	if reg.Endpoint == "" {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, "openwhisk adapter requires an action endpoint")
	}

	actionURL := reg.Endpoint
	if reg.APIHost != "" {
		actionURL = reg.APIHost + reg.Endpoint
	}

	blocking := !reg.Async

	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Adapter{
		client:    &http.Client{Timeout: timeout},
		actionURL: actionURL,
		user:      reg.BasicUser,
		pass:      reg.BasicPass,
		blocking:  blocking,
		health:    adapter.NewHealthTracker(0),
	}, nil
}

// Execute invokes the action, appending ?blocking=true&result=true for
// synchronous modules so the activation result comes back in the response
// body directly.
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
		return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "marshal openwhisk payload")
	}

	url := a.actionURL
	if a.blocking {
		url += "?blocking=true&result=true"
	} else {
		url += "?blocking=false"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "build openwhisk request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.user != "" {
		httpReq.SetBasicAuth(a.user, a.pass)
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rterrors.Wrap(err, rterrors.CodeAdapterTimeout, "openwhisk call timed out")
		}
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "openwhisk call failed")
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "read openwhisk response")
	}

	if !a.blocking {
		if httpResp.StatusCode == http.StatusAccepted {
			return &types.ExecuteResponse{Success: true}, nil
		}
		return nil, rterrors.New(rterrors.CodeAdapter4xx, fmt.Sprintf("openwhisk async invoke rejected: status %d", httpResp.StatusCode))
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		var rp adapter.ResponsePayload
		if err := json.Unmarshal(body, &rp); err != nil {
			return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "decode openwhisk activation result")
		}
		return adapter.ParseResponse(rp), nil
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, rterrors.New(rterrors.CodeSignatureMismatch, "openwhisk rejected namespace credentials")
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, rterrors.New(rterrors.CodeAdapterThrottled, fmt.Sprintf("openwhisk throttled: status %d", httpResp.StatusCode))
	case httpResp.StatusCode == http.StatusGatewayTimeout:
		// Blocking invoke exceeded OpenWhisk's own activation timeout and
		// fell back to an async activation id; the caller should not retry
		// this as a plain network failure.
		return nil, rterrors.New(rterrors.CodeAdapterTimeout, "openwhisk blocking invoke exceeded activation timeout")
	case httpResp.StatusCode >= 500:
		return nil, rterrors.New(rterrors.CodeAdapter5xx, fmt.Sprintf("openwhisk server error: status %d", httpResp.StatusCode))
	default:
		return nil, rterrors.New(rterrors.CodeAdapter4xx, fmt.Sprintf("openwhisk client error: status %d", httpResp.StatusCode))
	}
}

// Health reports the adapter's advisory health.
func (a *Adapter) Health(ctx context.Context) types.HealthStatus {
	return a.health.Status()
}
