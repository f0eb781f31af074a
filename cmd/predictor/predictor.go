// Package main implements the stateless survival prediction gRPC service.
//
// The service is chondrosurv.v1.Predictor with two unary methods, both taking
// and returning google.protobuf.Struct:
//
//   - Predict: field map in, survival curve and 1/3/5-year probabilities out
//   - Schema:  empty struct in, the form schema out
//
// Nothing is kept between calls; accumulating patients is the webapp's job.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/HatiCode/chondrosurv/pkg/features"
	"github.com/HatiCode/chondrosurv/pkg/models"
	"github.com/HatiCode/chondrosurv/pkg/predict"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chondrosurv.v1.Predictor"

const (
	predictMethod = "/" + ServiceName + "/Predict"
	schemaMethod  = "/" + ServiceName + "/Schema"
)

// PredictorServer is the server API for the Predictor service.
type PredictorServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Schema(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// predictorServiceDesc describes the Predictor service for grpc.Server.
var predictorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PredictorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: unaryHandler(predictMethod, PredictorServer.Predict)},
		{MethodName: "Schema", Handler: unaryHandler(schemaMethod, PredictorServer.Schema)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chondrosurv/v1/predictor.proto",
}

func unaryHandler(fullMethod string, call func(PredictorServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PredictorServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PredictorServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterPredictorServer registers srv with s.
func RegisterPredictorServer(s grpc.ServiceRegistrar, srv PredictorServer) {
	s.RegisterService(&predictorServiceDesc, srv)
}

// PredictorClient calls the Predictor service.
type PredictorClient struct {
	cc grpc.ClientConnInterface
}

// NewPredictorClient returns a client using cc.
func NewPredictorClient(cc grpc.ClientConnInterface) *PredictorClient {
	return &PredictorClient{cc: cc}
}

// Predict runs one patient through the model.
func (c *PredictorClient) Predict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, predictMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Schema returns the form schema.
func (c *PredictorClient) Schema(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, schemaMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Predictor implements PredictorServer on top of a prediction pipeline.
type Predictor struct {
	pipeline *predict.Pipeline
	logger   *slog.Logger
}

// New creates a Predictor.
func New(pipeline *predict.Pipeline, logger *slog.Logger) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{pipeline: pipeline, logger: logger}
}

// Predict converts the request fields to raw inputs and predicts. Missing
// fields take their form default.
func (p *Predictor) Predict(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := features.FromAny(in.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := p.pipeline.Predict(ctx, raw)
	if err != nil {
		p.logger.Warn("prediction failed", "error", err)
		return nil, toStatus(err)
	}

	out, err := structpb.NewStruct(map[string]any{
		"inputs":    stringsToAny(res.Inputs),
		"times":     floatsToAny(res.Curve.Times),
		"survival":  floatsToAny(res.Curve.Survival),
		"oneYear":   res.OneYear,
		"threeYear": res.ThreeYear,
		"fiveYear":  res.FiveYear,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// Schema returns the form schema as a Struct, keyed like the JSON API.
func (p *Predictor) Schema(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	data, err := json.Marshal(p.pipeline.Schema())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode schema: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode schema: %v", err)
	}

	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode schema: %v", err)
	}
	return out, nil
}

// toStatus maps pipeline errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case predict.IsInputError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, models.ErrHorizonTooShort):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func floatsToAny(xs []float64) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func stringsToAny(m features.RawInputs) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// loggingInterceptor logs each call with its status code and duration.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc call",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// recoveryInterceptor turns a handler panic into codes.Internal.
func recoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", "method", info.FullMethod, "panic", r)
				err = status.Error(codes.Internal, fmt.Sprintf("internal error: %v", r))
			}
		}()
		return handler(ctx, req)
	}
}
