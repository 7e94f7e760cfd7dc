// Package trace - gRPC server interceptors for trace extraction.
package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor continues the caller's trace from incoming metadata,
// echoes the trace ID in the response header and logs each call.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, tc := extractMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(TraceIDKey, tc.TraceID))

		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(ctx, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor does the same for streaming calls.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, tc := extractMetadata(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(TraceIDKey, tc.TraceID))

		start := time.Now()
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		logCall(ctx, info.FullMethod, start, err)
		return err
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

// extractMetadata builds a server span from incoming gRPC metadata.
func extractMetadata(ctx context.Context) (context.Context, Context) {
	var traceID, parent string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		traceID = first(md.Get(TraceIDKey))
		parent = first(md.Get(SpanIDKey))
	}
	tc := Continue(traceID, parent)
	return WithContext(ctx, tc), tc
}

func logCall(ctx context.Context, method string, start time.Time, err error) {
	log := Logger(ctx).With("method", method, "duration", time.Since(start))
	if err != nil {
		log.Warn("grpc call failed", "code", status.Code(err).String(), "error", err)
		return
	}
	log.Debug("grpc call")
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
