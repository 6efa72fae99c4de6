package interceptors

import (
	"context"
	"net"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestLoggingUnary_PassesThrough(t *testing.T) {
	clk := quartz.NewMock(t)
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	interceptor := LoggingUnary(logger, clk, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		clk.Advance(5 * time.Millisecond)
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = interceptor(context.Background(), "req", info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "down")
	})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestLoggingUnary_Skip(t *testing.T) {
	called := false
	interceptor := LoggingUnary(slogtest.Make(t, nil), nil, map[string]bool{"/x/Y": true})
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/Y"}, func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "", ClientIP(context.Background()))

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("10.1.2.3"), Port: 5555}})
	assert.Equal(t, "10.1.2.3", ClientIP(ctx))

	ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("x-forwarded-for", " 203.0.113.7, 10.0.0.1"))
	assert.Equal(t, "203.0.113.7", ClientIP(ctx))
}
