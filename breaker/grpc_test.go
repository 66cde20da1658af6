package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKeyByService(t *testing.T) {
	assert.Equal(t, "pkg.UserService", KeyByService(context.Background(), "/pkg.UserService/GetUser"))
	assert.Equal(t, "pkg.UserService", KeyByService(context.Background(), "/pkg.UserService/ListUsers"))
	// 无法解析时退回完整方法名
	assert.Equal(t, "weird", KeyByService(context.Background(), "weird"))
}

func TestUnaryClientInterceptorPassesThrough(t *testing.T) {
	group, err := NewGroup(nil)
	require.NoError(t, err)

	interceptor := UnaryClientInterceptor(group, nil)

	invoked := false
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		invoked = true
		return nil
	}

	err = interceptor(context.Background(), "/pkg.Svc/Get", nil, nil, nil, invoker)
	require.NoError(t, err)
	assert.True(t, invoked)

	cb, err := group.Get("/pkg.Svc/Get")
	require.NoError(t, err)
	assert.Equal(t, 1, cb.Snapshot().TotalCalls)
}

func TestUnaryClientInterceptorOpensAndRejects(t *testing.T) {
	group, err := NewGroup(&Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	})
	require.NoError(t, err)

	interceptor := UnaryClientInterceptor(group, nil)
	failing := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return status.Error(codes.Internal, "backend down")
	}

	for i := 0; i < 2; i++ {
		err = interceptor(context.Background(), "/pkg.Svc/Get", nil, nil, nil, failing)
		require.Error(t, err)
	}

	// 熔断后调用不再到达 invoker，错误转换为 Unavailable
	err = interceptor(context.Background(), "/pkg.Svc/Get", nil, nil, nil, func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		t.Fatal("invoker must not run while open")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestUnaryClientInterceptorIsolatesByKey(t *testing.T) {
	group, err := NewGroup(&Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	})
	require.NoError(t, err)

	// 按服务隔离：同服务的方法共享熔断器，不同服务互不影响
	interceptor := UnaryClientInterceptor(group, KeyByService)
	failing := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return status.Error(codes.Internal, "backend down")
	}
	ok := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		return nil
	}

	require.Error(t, interceptor(context.Background(), "/pkg.Flaky/A", nil, nil, nil, failing))
	require.Error(t, interceptor(context.Background(), "/pkg.Flaky/B", nil, nil, nil, failing))

	err = interceptor(context.Background(), "/pkg.Flaky/C", nil, nil, nil, ok)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	assert.NoError(t, interceptor(context.Background(), "/pkg.Healthy/A", nil, nil, nil, ok))
}

func TestStreamClientInterceptorRejectsWhileOpen(t *testing.T) {
	group, err := NewGroup(&Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	})
	require.NoError(t, err)

	cb, err := group.Get("/pkg.Svc/Watch")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		permit, acquireErr := cb.Acquire()
		require.NoError(t, acquireErr)
		require.NoError(t, permit.Record(time.Millisecond, errBackend))
	}
	require.Equal(t, StateOpen, cb.State())

	interceptor := StreamClientInterceptor(group, nil)
	_, err = interceptor(context.Background(), &grpc.StreamDesc{}, nil, "/pkg.Svc/Watch", func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		t.Fatal("streamer must not run while open")
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
