// Package lambda implements the Adapter variant that invokes an AWS Lambda
// function, synchronously or asynchronously, with the wire payload as the
// function's event.
package lambda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	awslambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/penguintechinc/waddlebot-router/internal/adapter"
	"github.com/penguintechinc/waddlebot-router/internal/rterrors"
	"github.com/penguintechinc/waddlebot-router/internal/types"
)

// Adapter invokes a fixed Lambda function name for every Execute call.
type Adapter struct {
	client       *awslambda.Client
	functionName string
	async        bool
	health       *adapter.HealthTracker
}

// New constructs a Lambda Adapter from a module registration.
func New(reg types.AdapterRegistration) (adapter.Adapter, error) {
	if reg.Endpoint == "" {
		return nil, rterrors.New(rterrors.CodeUnknownFunction, "lambda adapter requires a function name as endpoint")
	}

	region := reg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeInternal, "load AWS config for lambda adapter")
	}

	return &Adapter{
		client:       awslambda.NewFromConfig(awsCfg),
		functionName: reg.Endpoint,
		async:        reg.Async,
		health:       adapter.NewHealthTracker(0),
	}, nil
}

// Execute invokes the Lambda function. Async invocations (InvocationType
// Event) return immediately with a synthetic accepted response since Lambda
// gives no payload back for that invocation type.
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
	payloadBytes, err := json.Marshal(adapter.BuildPayload(req))
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "marshal lambda payload")
	}

	input := &awslambda.InvokeInput{
		FunctionName: aws.String(a.functionName),
		Payload:      payloadBytes,
	}
	if a.async {
		input.InvocationType = awslambdatypes.InvocationTypeEvent
	}

	result, err := a.client.Invoke(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return nil, rterrors.Wrap(err, rterrors.CodeAdapterTimeout, "lambda invoke timed out")
		}
		return nil, rterrors.Wrap(err, rterrors.CodeNetwork, "lambda invoke failed")
	}

	if a.async {
		return &types.ExecuteResponse{Success: true}, nil
	}

	if result.FunctionError != nil {
		return nil, rterrors.New(rterrors.CodeAdapter5xx, fmt.Sprintf("lambda function error: %s", aws.ToString(result.FunctionError)))
	}

	var rp adapter.ResponsePayload
	if err := json.Unmarshal(result.Payload, &rp); err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeAdapter4xx, "decode lambda response")
	}
	return adapter.ParseResponse(rp), nil
}

// Health reports the adapter's advisory health.
func (a *Adapter) Health(ctx context.Context) types.HealthStatus {
	return a.health.Status()
}
