package breaker

import "time"

// RateUndefined 表示窗口内没有样本，比率无意义
// 用 -1 区分"无数据"与"0% 失败"
const RateUndefined = -1.0

// Snapshot 窗口统计的时点快照（派生数据，不存储）
type Snapshot struct {
	// TotalCalls 窗口内调用总数（不含被忽略的调用）
	TotalCalls int
	// FailedCalls 窗口内失败调用数
	FailedCalls int
	// SlowCalls 窗口内慢调用数
	SlowCalls int
	// FailureRate 失败率百分比；窗口为空时为 RateUndefined
	FailureRate float64
	// SlowCallRate 慢调用率百分比；窗口为空时为 RateUndefined
	SlowCallRate float64
}

func makeSnapshot(total, fails, slows int) Snapshot {
	s := Snapshot{
		TotalCalls:   total,
		FailedCalls:  fails,
		SlowCalls:    slows,
		FailureRate:  RateUndefined,
		SlowCallRate: RateUndefined,
	}
	if total > 0 {
		s.FailureRate = 100 * float64(fails) / float64(total)
		s.SlowCallRate = 100 * float64(slows) / float64(total)
	}
	return s
}

// outcomeWindow 调用结果滑动窗口
// 被忽略的调用不会进入窗口；不变式：TotalCalls <= 窗口大小。
type outcomeWindow interface {
	// record 记录一次调用结果
	record(failure, slow bool)
	// snapshot 返回当前聚合统计
	snapshot() Snapshot
	// reset 清空所有样本
	reset()
}

// ========================================
// 按次数统计的窗口 (count-based)
// ========================================

// countSlot 单次调用结果
type countSlot struct {
	failure bool
	slow    bool
}

// countWindow 固定容量环形缓冲，覆盖最近 N 次调用
// 写游标单调前进并对容量取模；覆盖旧样本时先从聚合计数中
// 扣除被驱逐的样本，再累加新样本，均摊 O(1)，不做全量重扫。
type countWindow struct {
	slots []countSlot
	pos   int // 下一个写入位置
	count int // 已记录样本数（最大为容量）
	fails int
	slows int
}

func newCountWindow(size int) *countWindow {
	return &countWindow{slots: make([]countSlot, size)}
}

func (w *countWindow) record(failure, slow bool) {
	if w.count == len(w.slots) {
		// 覆盖最旧样本，扣除其计数
		old := w.slots[w.pos]
		if old.failure {
			w.fails--
		}
		if old.slow {
			w.slows--
		}
	} else {
		w.count++
	}

	w.slots[w.pos] = countSlot{failure: failure, slow: slow}
	if failure {
		w.fails++
	}
	if slow {
		w.slows++
	}

	w.pos = (w.pos + 1) % len(w.slots)
}

func (w *countWindow) snapshot() Snapshot {
	return makeSnapshot(w.count, w.fails, w.slows)
}

func (w *countWindow) reset() {
	for i := range w.slots {
		w.slots[i] = countSlot{}
	}
	w.pos = 0
	w.count = 0
	w.fails = 0
	w.slows = 0
}

// ========================================
// 按时间统计的窗口 (time-based)
// ========================================

// timeBucket 一秒的聚合桶
type timeBucket struct {
	epoch int64 // 所属的秒级时间戳，0 表示空桶
	total int
	fails int
	slows int
}

// timeWindow 覆盖最近 N 秒的时间桶数组
// 按秒级时间戳将样本归入 epoch % N 对应的桶；每次读写前惰性清理
// 滚出窗口的过期桶，聚合计数以运行总和方式维护，随桶过期扣减。
type timeWindow struct {
	buckets []timeBucket
	total   int
	fails   int
	slows   int
	clock   nowFunc
}

func newTimeWindow(size int, clock nowFunc) *timeWindow {
	return &timeWindow{
		buckets: make([]timeBucket, size),
		clock:   clock,
	}
}

// advance 清理不再属于窗口的过期桶
func (w *timeWindow) advance(now time.Time) {
	oldest := now.Unix() - int64(len(w.buckets)) + 1
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.epoch != 0 && b.epoch < oldest {
			w.total -= b.total
			w.fails -= b.fails
			w.slows -= b.slows
			*b = timeBucket{}
		}
	}
}

func (w *timeWindow) record(failure, slow bool) {
	now := w.clock()
	w.advance(now)

	epoch := now.Unix()
	b := &w.buckets[epoch%int64(len(w.buckets))]
	if b.epoch != epoch {
		// 桶槽位被复用，旧内容已在 advance 中清理
		*b = timeBucket{epoch: epoch}
	}

	b.total++
	w.total++
	if failure {
		b.fails++
		w.fails++
	}
	if slow {
		b.slows++
		w.slows++
	}
}

func (w *timeWindow) snapshot() Snapshot {
	w.advance(w.clock())
	return makeSnapshot(w.total, w.fails, w.slows)
}

func (w *timeWindow) reset() {
	for i := range w.buckets {
		w.buckets[i] = timeBucket{}
	}
	w.total = 0
	w.fails = 0
	w.slows = 0
}
