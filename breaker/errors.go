package breaker

import "github.com/ceyewan/fuse/xerrors"

// 错误定义
var (
	// ErrNameEmpty 熔断器名称为空
	ErrNameEmpty = xerrors.New("breaker: name is empty")

	// ErrKeyEmpty 熔断键为空
	ErrKeyEmpty = xerrors.New("breaker: key is empty")

	// ErrInvalidConfig 配置非法
	ErrInvalidConfig = xerrors.New("breaker: invalid config")

	// ErrOpenState 熔断器处于打开（或强制打开）状态，调用被拒绝
	ErrOpenState = xerrors.New("breaker: circuit breaker is open")

	// ErrTooManyCalls 半开状态下探测名额已用尽，调用被拒绝
	ErrTooManyCalls = xerrors.New("breaker: too many calls in half-open state")

	// ErrPermitUsed 通行凭证已经回报过结果
	ErrPermitUsed = xerrors.New("breaker: permit already recorded")

	// ErrUnknownState 未知的目标状态
	ErrUnknownState = xerrors.New("breaker: unknown state")

	// ErrUpstreamStatus HTTP handler 返回了 5xx 状态码
	ErrUpstreamStatus = xerrors.New("breaker: upstream returned server error status")
)

// IsRejection 判断错误是否为熔断器的拒绝决策
// 拒绝是一等结果而非故障：上层可据此走降级逻辑，
// 而无需检查被保护操作自身的错误类型。
func IsRejection(err error) bool {
	return xerrors.Is(err, ErrOpenState) || xerrors.Is(err, ErrTooManyCalls)
}
