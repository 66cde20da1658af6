package breaker

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware 创建 Gin 熔断中间件
//
// 参数:
//   - cb: 熔断器实例，整个路由组共享
//
// 被熔断的请求返回 503，不会进入后续 handler。
// handler 写入的响应状态码 >= 500 视为一次失败结果。
//
// 使用示例:
//
//	r := gin.New()
//	r.Use(breaker.GinMiddleware(cb))
func GinMiddleware(cb Breaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		permit, err := cb.Acquire()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "service unavailable",
			})
			return
		}

		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		var result error
		if c.Writer.Status() >= http.StatusInternalServerError {
			result = ErrUpstreamStatus
		} else if len(c.Errors) > 0 {
			result = c.Errors.Last()
		}
		_ = permit.Record(elapsed, result)
	}
}

// GinMiddlewarePerPath 创建按路径隔离的 Gin 熔断中间件
// 每个请求路径对应组内一个独立的熔断器
//
// 使用示例:
//
//	group, _ := breaker.NewGroup(nil)
//	r.Use(breaker.GinMiddlewarePerPath(group))
func GinMiddlewarePerPath(group *Group) gin.HandlerFunc {
	return func(c *gin.Context) {
		cb, err := group.Get(c.FullPath())
		if err != nil {
			// 无法取得熔断器时放行，避免影响业务
			c.Next()
			return
		}
		GinMiddleware(cb)(c)
	}
}
