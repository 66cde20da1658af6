package breaker

import (
	"context"

	"github.com/ceyewan/fuse/metrics"
)

// Metrics 指标常量定义
const (
	// MetricCallsTotal 调用总数 (Counter)
	MetricCallsTotal = "breaker_calls_total"

	// MetricSuccessTotal 成功调用数 (Counter)
	MetricSuccessTotal = "breaker_success_total"

	// MetricFailuresTotal 失败调用数 (Counter)
	MetricFailuresTotal = "breaker_failures_total"

	// MetricIgnoredTotal 被忽略的错误数 (Counter)
	MetricIgnoredTotal = "breaker_ignored_errors_total"

	// MetricRejectsTotal 被熔断拒绝的调用数 (Counter)
	MetricRejectsTotal = "breaker_rejects_total"

	// MetricStateChanges 状态变更次数 (Counter)
	MetricStateChanges = "breaker_state_changes_total"

	// MetricCallDuration 调用耗时 (Histogram)
	MetricCallDuration = "breaker_call_duration_seconds"

	// LabelName 熔断器名称标签
	LabelName = "name"

	// LabelFromState 源状态标签
	LabelFromState = "from_state"

	// LabelToState 目标状态标签
	LabelToState = "to_state"

	// LabelResult 结果标签 (success/failure/ignored)
	LabelResult = "result"
)

// instruments 预先创建的指标集合（内部使用）
type instruments struct {
	calls        metrics.Counter
	success      metrics.Counter
	failures     metrics.Counter
	ignored      metrics.Counter
	rejects      metrics.Counter
	stateChanges metrics.Counter
	duration     metrics.Histogram
}

// newInstruments 从 Meter 创建指标集合
func newInstruments(meter metrics.Meter) (*instruments, error) {
	var (
		ins instruments
		err error
	)

	if ins.calls, err = meter.Counter(MetricCallsTotal, "Total calls through the circuit breaker"); err != nil {
		return nil, err
	}
	if ins.success, err = meter.Counter(MetricSuccessTotal, "Successful calls"); err != nil {
		return nil, err
	}
	if ins.failures, err = meter.Counter(MetricFailuresTotal, "Failed calls"); err != nil {
		return nil, err
	}
	if ins.ignored, err = meter.Counter(MetricIgnoredTotal, "Errors matched by the ignore classifier"); err != nil {
		return nil, err
	}
	if ins.rejects, err = meter.Counter(MetricRejectsTotal, "Calls rejected by the circuit breaker"); err != nil {
		return nil, err
	}
	if ins.stateChanges, err = meter.Counter(MetricStateChanges, "Circuit breaker state changes"); err != nil {
		return nil, err
	}
	if ins.duration, err = meter.Histogram(MetricCallDuration, "Call duration", metrics.WithUnit("seconds")); err != nil {
		return nil, err
	}

	return &ins, nil
}

// recordCall 记录一次调用结果的指标
func (ins *instruments) recordCall(name string, kind EventKind, seconds float64) {
	if ins == nil {
		return
	}

	ctx := context.Background()
	ins.calls.Inc(ctx, metrics.L(LabelName, name))
	ins.duration.Record(ctx, seconds, metrics.L(LabelName, name))

	switch kind {
	case EventSuccess:
		ins.success.Inc(ctx, metrics.L(LabelName, name), metrics.L(LabelResult, "success"))
	case EventError:
		ins.failures.Inc(ctx, metrics.L(LabelName, name), metrics.L(LabelResult, "failure"))
	case EventIgnoredError:
		ins.ignored.Inc(ctx, metrics.L(LabelName, name), metrics.L(LabelResult, "ignored"))
	}
}

// recordReject 记录一次被拒绝的调用
func (ins *instruments) recordReject(name string) {
	if ins == nil {
		return
	}
	ins.rejects.Inc(context.Background(), metrics.L(LabelName, name))
}

// recordTransition 记录一次状态变更
func (ins *instruments) recordTransition(name string, from, to State) {
	if ins == nil {
		return
	}
	ins.stateChanges.Inc(context.Background(),
		metrics.L(LabelName, name),
		metrics.L(LabelFromState, from.String()),
		metrics.L(LabelToState, to.String()))
}
