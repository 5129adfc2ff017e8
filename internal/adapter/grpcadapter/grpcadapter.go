// Package grpcadapter implements the Adapter variant that makes a unary gRPC
// call to a module's action service. Since modules plug in without generated
// stubs, requests and responses are carried as raw JSON bytes through a
// passthrough codec rather than a compiled .proto message.
package grpcadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

const executeMethod = "/waddlebot.router.Action/Execute"

func init() {
	encoding.RegisterCodec(rawJSONCodec{})
}

// rawJSONCodec treats every message as a []byte already holding JSON, so the
// adapter can make gRPC calls without compiled message types.
type rawJSONCodec struct{}

func (rawJSONCodec) Name() string { return "raw-json" }

func (rawJSONCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.(*[]byte); ok {
		return *b, nil
	}
	return nil, fmt.Errorf("grpcadapter: unsupported marshal type %T", v)
}

func (rawJSONCodec) Unmarshal(data []byte, v any) error {
	b, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("grpcadapter: unsupported unmarshal type %T", v)
	}
	*b = append((*b)[:0], data...)
	return nil
}

// Adapter makes a unary gRPC call against a fixed endpoint and signs the
// call with a bearer token carried as call metadata.
type Adapter struct {
	endpoint   string
	signingKey string
	timeout    time.Duration
	health     *adapter.HealthTracker

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// New constructs a gRPC Adapter for one module registration.
func New(reg types.AdapterRegistration) (adapter.Adapter, error) {
	if reg.Endpoint == "" {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, "grpc adapter requires an endpoint address")
	}
	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		endpoint:   reg.Endpoint,
		signingKey: reg.SigningKey,
		timeout:    timeout,
		health:     adapter.NewHealthTracker(0),
	}, nil
}

func (a *Adapter) dial() (*grpc.ClientConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := grpc.NewClient(a.endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	a.conn = conn
	return conn, nil
}

// Execute invokes the module's action RPC with the wire payload as the raw
// request body.
func (a *Adapter) Execute(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	resp, err := a.invoke(ctx, req)
	if err != nil {
		a.health.RecordFailure()
		return nil, err
	}
	a.health.RecordSuccess()
	return resp, nil
}

func (a *Adapter) invoke(ctx context.Context, req *types.ExecuteRequest) (*types.ExecuteResponse, error) {
	conn, err := a.dial()
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "dial grpc adapter endpoint")
	}

	payload, err := json.Marshal(adapter.BuildPayload(req))
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "marshal grpc payload")
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if a.signingKey != "" {
		callCtx = metadata.AppendToOutgoingContext(callCtx, "authorization", "bearer "+a.signingKey)
	}

	var respBytes []byte
	err = conn.Invoke(callCtx, executeMethod, &payload, &respBytes, grpc.CallContentSubtype(rawJSONCodec{}.Name()))
	if err != nil {
		return nil, mapGRPCError(err)
	}

	var rp adapter.ResponsePayload
	if err := json.Unmarshal(respBytes, &rp); err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "decode grpc response")
	}
	return adapter.ParseResponse(rp), nil
}

func mapGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return rterrors.Wrap(err, rterrors.CodeNetwork, "grpc call failed")
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return rterrors.Wrap(err, rterrors.CodeAdapterTimeout, "grpc call deadline exceeded")
	case codes.Unavailable:
		return rterrors.Wrap(err, rterrors.CodeNetwork, "grpc endpoint unavailable")
	case codes.ResourceExhausted:
		return rterrors.Wrap(err, rterrors.CodeAdapterThrottled, "grpc endpoint throttled")
	case codes.Unauthenticated, codes.PermissionDenied:
		return rterrors.Wrap(err, rterrors.CodeSignatureMismatch, "grpc call rejected credentials")
	case codes.Unimplemented, codes.NotFound:
		return rterrors.Wrap(err, rterrors.CodeUnknownFunction, "grpc method not implemented")
	case codes.Internal, codes.Unknown:
		return rterrors.Wrap(err, rterrors.CodeAdapter5xx, "grpc internal error")
	default:
		return rterrors.Wrap(err, rterrors.CodeAdapter4xx, "grpc call rejected")
	}
}

// Health reports the adapter's advisory health.
func (a *Adapter) Health(ctx context.Context) types.HealthStatus {
	return a.health.Status()
}
