package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend failed")

// newTestBreaker 创建注入了可控时钟的熔断器
func newTestBreaker(t *testing.T, cfg *Config, opts ...Option) (*circuitBreaker, *fakeClock) {
	t.Helper()

	b, err := New("test", cfg, opts...)
	require.NoError(t, err)

	cb := b.(*circuitBreaker)
	clock := newFakeClock()
	cb.clock = clock.Now
	return cb, clock
}

// report 执行一次 Acquire + Record
func report(t *testing.T, cb *circuitBreaker, elapsed time.Duration, err error) {
	t.Helper()

	permit, acquireErr := cb.Acquire()
	require.NoError(t, acquireErr)
	require.NoError(t, permit.Record(elapsed, err))
}

func TestNewValidation(t *testing.T) {
	_, err := New("", nil)
	assert.ErrorIs(t, err, ErrNameEmpty)

	_, err = New("bad", &Config{FailureRateThreshold: 150})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New("bad", &Config{SlidingWindowType: "weekly"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	b, err := New("ok", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", b.Name())
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensWhenFailureRateReached(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		FailureRateThreshold: 50,
		SlidingWindowSize:    4,
		MinimumNumberOfCalls: 4,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, nil)
	assert.Equal(t, StateClosed, cb.State(), "below minimum calls, no evaluation yet")

	// 第 4 次调用补齐最小样本数，失败率恰好 50% 触发熔断
	report(t, cb, time.Millisecond, nil)
	assert.Equal(t, StateOpen, cb.State())
}

func TestStaysClosedBelowMinimumCalls(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		FailureRateThreshold: 50,
		SlidingWindowSize:    20,
		MinimumNumberOfCalls: 10,
	})

	// 100% 失败率，但样本数不足，不评估
	for i := 0; i < 9; i++ {
		report(t, cb, time.Millisecond, errBackend)
	}
	assert.Equal(t, StateClosed, cb.State())

	report(t, cb, time.Millisecond, errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

func TestOpensOnSlowCallRate(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		FailureRateThreshold:      100,
		SlowCallRateThreshold:     50,
		SlowCallDurationThreshold: 100 * time.Millisecond,
		SlidingWindowSize:         4,
		MinimumNumberOfCalls:      4,
	})

	// 全部成功，但一半调用达到慢调用阈值
	report(t, cb, 100*time.Millisecond, nil)
	report(t, cb, 200*time.Millisecond, nil)
	report(t, cb, time.Millisecond, nil)
	report(t, cb, time.Millisecond, nil)

	assert.Equal(t, StateOpen, cb.State())
}

func TestIgnoredErrorsDoNotCount(t *testing.T) {
	errSkip := errors.New("not found")
	cb, _ := newTestBreaker(t, &Config{
		FailureRateThreshold: 50,
		SlidingWindowSize:    4,
		MinimumNumberOfCalls: 4,
		Classifier: NewClassifier(nil, func(err error) bool {
			return errors.Is(err, errSkip)
		}),
	})

	for i := 0; i < 10; i++ {
		report(t, cb, time.Millisecond, errSkip)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().TotalCalls, "ignored outcomes never enter the window")
}

func TestClassifierFailurePredicate(t *testing.T) {
	errClient := errors.New("bad request")
	cb, _ := newTestBreaker(t, &Config{
		FailureRateThreshold: 50,
		SlidingWindowSize:    4,
		MinimumNumberOfCalls: 4,
		Classifier: NewClassifier(func(err error) bool {
			return !errors.Is(err, errClient)
		}, nil),
	})

	// 未命中失败规则的错误按成功处理
	for i := 0; i < 4; i++ {
		report(t, cb, time.Millisecond, errClient)
	}

	assert.Equal(t, StateClosed, cb.State())
	snap := cb.Snapshot()
	assert.Equal(t, 4, snap.TotalCalls)
	assert.Equal(t, 0, snap.FailedCalls)
}

func TestOpenRejectsCalls(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())

	assert.False(t, cb.PermitsCalls())

	permit, err := cb.Acquire()
	assert.Nil(t, permit)
	assert.ErrorIs(t, err, ErrOpenState)
	assert.True(t, IsRejection(err))
}

func TestSnapshotFrozenWhileOpen(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		SlidingWindowSize:    4,
		MinimumNumberOfCalls: 2,
	})

	report(t, cb, time.Millisecond, nil)
	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())

	// 冻结的是离开 Closed 那一刻的窗口内容
	snap := cb.Snapshot()
	assert.Equal(t, 3, snap.TotalCalls)
	assert.Equal(t, 2, snap.FailedCalls)
	assert.InDelta(t, 100.0*2/3, snap.FailureRate, 0.001)
}

func TestLazyTransitionToHalfOpenAfterWait(t *testing.T) {
	cb, clock := newTestBreaker(t, &Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
		WaitDurationInOpen:   30 * time.Second,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())

	// 等待时间未到，仍然拒绝
	clock.Advance(29 * time.Second)
	_, err := cb.Acquire()
	assert.ErrorIs(t, err, ErrOpenState)
	assert.False(t, cb.PermitsCalls())

	// 等待时间已过，下一次 Acquire 惰性转入半开并放行
	clock.Advance(time.Second)
	assert.True(t, cb.PermitsCalls())

	permit, err := cb.Acquire()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, permit.Record(time.Millisecond, nil))
}

func TestHalfOpenClosesOnSuccess(t *testing.T) {
	cb, clock := newTestBreaker(t, &Config{
		SlidingWindowSize:        2,
		MinimumNumberOfCalls:     2,
		PermittedCallsInHalfOpen: 2,
		WaitDurationInOpen:       time.Second,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	clock.Advance(2 * time.Second)

	report(t, cb, time.Millisecond, nil)
	require.Equal(t, StateHalfOpen, cb.State())
	report(t, cb, time.Millisecond, nil)
	assert.Equal(t, StateClosed, cb.State())

	// 回到 Closed 后窗口是干净的
	assert.Equal(t, 0, cb.Snapshot().TotalCalls)
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	cb, clock := newTestBreaker(t, &Config{
		SlidingWindowSize:        2,
		MinimumNumberOfCalls:     2,
		PermittedCallsInHalfOpen: 2,
		WaitDurationInOpen:       time.Second,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	clock.Advance(2 * time.Second)

	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateHalfOpen, cb.State())
	report(t, cb, time.Millisecond, errBackend)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenPermitCap(t *testing.T) {
	cb, clock := newTestBreaker(t, &Config{
		SlidingWindowSize:        2,
		MinimumNumberOfCalls:     2,
		PermittedCallsInHalfOpen: 2,
		WaitDurationInOpen:       time.Second,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	clock.Advance(2 * time.Second)

	p1, err := cb.Acquire()
	require.NoError(t, err)
	p2, err := cb.Acquire()
	require.NoError(t, err)

	// 名额用尽，后续请求被拒绝且不影响在途探测
	_, err = cb.Acquire()
	assert.ErrorIs(t, err, ErrTooManyCalls)
	assert.True(t, IsRejection(err))
	assert.False(t, cb.PermitsCalls())

	require.NoError(t, p1.Record(time.Millisecond, nil))
	require.NoError(t, p2.Record(time.Millisecond, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenIgnoredOutcomesReleasePermits(t *testing.T) {
	errSkip := errors.New("transient noise")
	cb, clock := newTestBreaker(t, &Config{
		SlidingWindowSize:        2,
		MinimumNumberOfCalls:     2,
		PermittedCallsInHalfOpen: 2,
		WaitDurationInOpen:       time.Second,
		Classifier: NewClassifier(nil, func(err error) bool {
			return errors.Is(err, errSkip)
		}),
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())
	clock.Advance(2 * time.Second)

	// 被忽略的结果归还探测名额：即使远超名额预算也不得耗尽半开状态
	for i := 0; i < 10; i++ {
		report(t, cb, time.Millisecond, errSkip)
	}
	require.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.PermitsCalls())
	assert.Equal(t, 0, cb.Snapshot().TotalCalls, "ignored outcomes never enter the half-open window")

	// 真实探测结果仍能驱动状态评估
	report(t, cb, time.Millisecond, nil)
	report(t, cb, time.Millisecond, nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenConcurrentAdmission(t *testing.T) {
	const permitted = 5
	cb, clock := newTestBreaker(t, &Config{
		SlidingWindowSize:        2,
		MinimumNumberOfCalls:     2,
		PermittedCallsInHalfOpen: permitted,
		WaitDurationInOpen:       time.Second,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	clock.Advance(2 * time.Second)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cb.Acquire(); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, permitted, granted, "admission never exceeds the permit budget")
}

func TestAutoTransitionToHalfOpen(t *testing.T) {
	b, err := New("auto", &Config{
		SlidingWindowSize:                2,
		MinimumNumberOfCalls:             2,
		WaitDurationInOpen:               20 * time.Millisecond,
		AutoTransitionFromOpenToHalfOpen: true,
	})
	require.NoError(t, err)
	cb := b.(*circuitBreaker)

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())

	require.Eventually(t, func() bool {
		return cb.State() == StateHalfOpen
	}, time.Second, 5*time.Millisecond)
}

func TestAutoTransitionCancelledByReset(t *testing.T) {
	b, err := New("auto-reset", &Config{
		SlidingWindowSize:                2,
		MinimumNumberOfCalls:             2,
		WaitDurationInOpen:               20 * time.Millisecond,
		AutoTransitionFromOpenToHalfOpen: true,
	})
	require.NoError(t, err)
	cb := b.(*circuitBreaker)

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	// 过期定时器不得把重置后的熔断器拉回半开
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateClosed, cb.State())
}

func TestForcedOpen(t *testing.T) {
	cb, clock := newTestBreaker(t, &Config{WaitDurationInOpen: time.Second})

	require.NoError(t, cb.TransitionTo(StateForcedOpen))
	assert.False(t, cb.PermitsCalls())

	// 强制打开不受等待时间影响
	clock.Advance(time.Hour)
	_, err := cb.Acquire()
	assert.ErrorIs(t, err, ErrOpenState)
	assert.Equal(t, StateForcedOpen, cb.State())
}

func TestDisabledAlwaysPermitsAndNeverTrips(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	})

	require.NoError(t, cb.TransitionTo(StateDisabled))

	for i := 0; i < 20; i++ {
		report(t, cb, time.Millisecond, errBackend)
	}
	assert.Equal(t, StateDisabled, cb.State())
	assert.True(t, cb.PermitsCalls())
	assert.Equal(t, 0, cb.Snapshot().TotalCalls, "disabled state records nothing")
}

func TestMetricsOnlyRecordsButNeverTrips(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		FailureRateThreshold: 50,
		SlidingWindowSize:    10,
		MinimumNumberOfCalls: 2,
	})

	require.NoError(t, cb.TransitionTo(StateMetricsOnly))

	for i := 0; i < 10; i++ {
		report(t, cb, time.Millisecond, errBackend)
	}

	assert.Equal(t, StateMetricsOnly, cb.State())
	assert.True(t, cb.PermitsCalls())

	snap := cb.Snapshot()
	assert.Equal(t, 10, snap.TotalCalls)
	assert.InDelta(t, 100.0, snap.FailureRate, 0.001)
}

func TestTransitionToUnknownState(t *testing.T) {
	cb, _ := newTestBreaker(t, nil)
	assert.ErrorIs(t, cb.TransitionTo(State(42)), ErrUnknownState)
}

func TestManualTransitionResetsWindow(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		SlidingWindowSize:    10,
		MinimumNumberOfCalls: 10,
	})

	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, 1, cb.Snapshot().TotalCalls)

	// 同态转换也无条件重置窗口
	require.NoError(t, cb.TransitionTo(StateClosed))
	assert.Equal(t, 0, cb.Snapshot().TotalCalls)
}

func TestResetFromAnyState(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().TotalCalls)

	// 重复重置是幂等的
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestPermitDoubleRecord(t *testing.T) {
	cb, _ := newTestBreaker(t, nil)

	permit, err := cb.Acquire()
	require.NoError(t, err)

	require.NoError(t, permit.Record(time.Millisecond, nil))
	assert.ErrorIs(t, permit.Record(time.Millisecond, nil), ErrPermitUsed)
	assert.Equal(t, 1, cb.Snapshot().TotalCalls, "double record must not double count")
}

func TestExecuteRecordsOutcome(t *testing.T) {
	cb, _ := newTestBreaker(t, &Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	})

	result, err := cb.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	_, err = cb.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errBackend
	})
	assert.ErrorIs(t, err, errBackend)

	snap := cb.Snapshot()
	assert.Equal(t, 2, snap.TotalCalls)
	assert.Equal(t, 1, snap.FailedCalls)
}

func TestExecuteFallbackOnRejection(t *testing.T) {
	fallback := func(ctx context.Context, name string, err error) (any, error) {
		return "cached", nil
	}
	cb, _ := newTestBreaker(t, &Config{
		SlidingWindowSize:    2,
		MinimumNumberOfCalls: 2,
	}, WithFallback(fallback))

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateOpen, cb.State())

	result, err := cb.Execute(context.Background(), func(ctx context.Context) (any, error) {
		t.Fatal("protected function must not run while open")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestTimeBasedWindowBreaker(t *testing.T) {
	cb, clock := newTestBreaker(t, &Config{
		SlidingWindowType:    WindowTimeBased,
		SlidingWindowSize:    5,
		MinimumNumberOfCalls: 4,
	})

	report(t, cb, time.Millisecond, errBackend)
	report(t, cb, time.Millisecond, errBackend)
	require.Equal(t, StateClosed, cb.State())

	// 旧失败滚出窗口后，新的成功不足以触发熔断
	clock.Advance(10 * time.Second)
	report(t, cb, time.Millisecond, nil)
	report(t, cb, time.Millisecond, nil)
	report(t, cb, time.Millisecond, nil)
	report(t, cb, time.Millisecond, nil)
	assert.Equal(t, StateClosed, cb.State())

	snap := cb.Snapshot()
	assert.Equal(t, 4, snap.TotalCalls)
	assert.Equal(t, 0, snap.FailedCalls)
}
