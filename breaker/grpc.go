package breaker

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ========================================
// 熔断键提取 (Key Functions)
// ========================================

// KeyFunc 从调用上下文中提取熔断键
// 每个键对应组内一个独立的熔断器实例
type KeyFunc func(ctx context.Context, fullMethod string) string

// KeyByMethod 按完整方法名隔离，如 /pkg.Service/Method
func KeyByMethod(ctx context.Context, fullMethod string) string {
	return fullMethod
}

// KeyByService 按服务名隔离：同一服务的所有方法共享一个熔断器
func KeyByService(ctx context.Context, fullMethod string) string {
	// fullMethod 格式为 /pkg.Service/Method
	trimmed := strings.TrimPrefix(fullMethod, "/")
	if idx := strings.Index(trimmed, "/"); idx > 0 {
		return trimmed[:idx]
	}
	return fullMethod
}

// ========================================
// 客户端拦截器 (Client Interceptor)
// ========================================

// UnaryClientInterceptor 返回 gRPC 一元调用客户端熔断拦截器
//
// 参数:
//   - group: 熔断器组，按 keyFunc 提取的键隔离熔断
//   - keyFunc: 熔断键提取函数，如果为 nil，默认按完整方法名隔离
//
// 被熔断的调用返回 codes.Unavailable，不会到达下游。
//
// 使用示例:
//
//	conn, _ := grpc.NewClient(
//	    "localhost:9001",
//	    grpc.WithUnaryInterceptor(
//	        breaker.UnaryClientInterceptor(group, breaker.KeyByService),
//	    ),
//	)
func UnaryClientInterceptor(group *Group, keyFunc KeyFunc) grpc.UnaryClientInterceptor {
	if keyFunc == nil {
		keyFunc = KeyByMethod
	}

	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		cb, err := group.Get(keyFunc(ctx, method))
		if err != nil {
			// 熔断器不可用时放行，避免影响业务
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		_, err = cb.Execute(ctx, func(ctx context.Context) (any, error) {
			return nil, invoker(ctx, method, req, reply, cc, opts...)
		})
		if IsRejection(err) {
			return status.Error(codes.Unavailable, err.Error())
		}
		return err
	}
}

// StreamClientInterceptor 返回 gRPC 流式调用客户端熔断拦截器
// 熔断决策在建立流时做出；流的建立结果回报给熔断器
func StreamClientInterceptor(group *Group, keyFunc KeyFunc) grpc.StreamClientInterceptor {
	if keyFunc == nil {
		keyFunc = KeyByMethod
	}

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		cb, err := group.Get(keyFunc(ctx, method))
		if err != nil {
			return streamer(ctx, desc, cc, method, opts...)
		}

		result, err := cb.Execute(ctx, func(ctx context.Context) (any, error) {
			return streamer(ctx, desc, cc, method, opts...)
		})
		if IsRejection(err) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		if err != nil {
			return nil, err
		}
		stream, ok := result.(grpc.ClientStream)
		if !ok {
			// 降级函数返回了非流结果，对流式调用无意义
			return nil, status.Error(codes.Unavailable, ErrOpenState.Error())
		}
		return stream, nil
	}
}
