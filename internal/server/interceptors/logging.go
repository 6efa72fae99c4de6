// Package interceptors holds gRPC server interceptors for the health endpoint.
package interceptors

import (
	"context"
	"net"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC with its status code and duration.
// Failed RPCs log at Warn; everything else at Debug. Methods in skip are not logged.
func LoggingUnary(logger slog.Logger, clock quartz.Clock, skip map[string]bool) grpc.UnaryServerInterceptor {
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger = logger.Named("grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := clock.Now()
		resp, err := handler(ctx, req)
		if skip[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		fields := []slog.Field{
			slog.F("method", info.FullMethod),
			slog.F("code", code.String()),
			slog.F("duration_ms", clock.Since(start)/time.Millisecond),
			slog.F("client_ip", ClientIP(ctx)),
		}
		switch code {
		case codes.OK, codes.NotFound, codes.Canceled:
			logger.Debug(ctx, "rpc", fields...)
		default:
			logger.Warn(ctx, "rpc failed", append(fields, slog.Error(err))...)
		}
		return resp, err
	}
}

// ClientIP returns the caller address from x-forwarded-for, x-real-ip or the peer, or "" when unknown.
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s, _, _ := strings.Cut(vals[0], ","); strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
			return strings.TrimSpace(vals[0])
		}
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
