package mio

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"
)

// TimerMode selects whether a periodic timer's re-arm is computed from the
// fire's scheduled start time (absolute, drift-free) or from the moment the
// callback finished running (relative, compounds scheduling jitter).
type TimerMode int

const (
	// ModeAbsolute re-arms due += period from the tick that fired it, so a
	// slow callback doesn't push subsequent fires later.
	ModeAbsolute TimerMode = iota
	// ModeRelative re-arms period after the callback completes.
	ModeRelative
)

// TimerStatus is the externally observable lifecycle state of a Timer.
type TimerStatus int32

const (
	TimerScheduled TimerStatus = iota
	TimerFiring
	TimerCancelled
	TimerExpired
)

// Clock exposes a monotonic millisecond time base anchored to a single
// wall-clock reading taken at construction, with all subsequent reads
// derived from time.Since against that anchor. This mirrors the teacher's
// loop.go tick-anchor pattern (a time.Time anchor plus an elapsed offset)
// generalized into a standalone, loop-independent type so every Clock user
// — the timer heap, metrics, adapters — shares one non-decreasing source.
type Clock struct {
	anchor time.Time
}

// NewClock returns a Clock anchored to the current instant.
func NewClock() *Clock {
	return &Clock{anchor: time.Now()}
}

// NowMS returns a monotonic, non-decreasing millisecond stamp. Ties are
// allowed: two calls in immediate succession may return equal values.
func (c *Clock) NowMS() int64 {
	return time.Since(c.anchor).Milliseconds()
}

// Elapsed returns now - start in milliseconds, safe across wall-clock
// adjustments since both values are derived from the monotonic reading.
func (c *Clock) Elapsed(startMS int64) int64 {
	return c.NowMS() - startMS
}

// TimerCallback is invoked on the owning loop's thread when a Timer fires.
type TimerCallback func(h *Timer)

// Timer is a single scheduled or periodic callback, per spec.md §3's Timer
// value. A Timer belongs to the TimerQueue whose Schedule created it;
// Reschedule and Adjust do not check that a Timer passed to them came from
// the receiving queue, and no operation returns ErrTimerForeignLoop.
type Timer struct {
	DueMS    int64
	PeriodMS int64 // 0 = one-shot
	Mode     TimerMode
	User     any

	cb     TimerCallback
	status atomic.Int32
	index  int // heap index, maintained by timerHeap
	seq    uint64
}

// Status returns the timer's current lifecycle state.
func (t *Timer) Status() TimerStatus { return TimerStatus(t.status.Load()) }

// timerHeap is a min-heap ordered by due time, ties broken by insertion
// sequence so same-instant timers fire in scheduled order (spec.md §4.4's
// ordering guarantee).
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].DueMS != h[j].DueMS {
		return h[i].DueMS < h[j].DueMS
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerQueue is the per-loop priority queue of scheduled timers. It is not
// safe for concurrent use by multiple goroutines except via Cancel, which
// is explicitly documented as safe to call from any goroutine — the loop
// owning the queue only mutates it on its own thread, and Cancel instead
// marks the timer cancelled and lets the loop observe that at the next
// firing check.
type TimerQueue struct {
	clock  *Clock
	mu     sync.Mutex // guards seq only; heap itself is loop-thread-only
	seq    uint64
	heap   timerHeap
	logger *Logger
	loopID int64
}

// NewTimerQueue creates an empty queue anchored to clock.
func NewTimerQueue(clock *Clock) *TimerQueue {
	return &TimerQueue{clock: clock}
}

// SetLogger attaches a logger and owning loop ID used for debug-level
// scheduling/firing/cancellation log lines. Unset, the queue logs nothing.
func (q *TimerQueue) SetLogger(l *Logger, loopID int64) {
	q.logger = l
	q.loopID = loopID
}

func (q *TimerQueue) nextSeq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

// Schedule adds a timer due in delayMS milliseconds (or, for a periodic
// timer, re-armed every periodMS thereafter) to the queue. Must be called
// from the owning loop's thread. O(log n).
func (q *TimerQueue) Schedule(delayMS, periodMS int64, mode TimerMode, cb TimerCallback, user any) *Timer {
	t := &Timer{
		DueMS:    q.clock.NowMS() + delayMS,
		PeriodMS: periodMS,
		Mode:     mode,
		User:     user,
		cb:       cb,
		seq:      q.nextSeq(),
	}
	t.status.Store(int32(TimerScheduled))
	heap.Push(&q.heap, t)
	logTimerScheduled(q.logger, q.loopID, int64(t.seq), delayMS)
	return t
}

// Cancel marks h cancelled. Idempotent, and safe to call from any
// goroutine: a cancel racing a firing either completes before the
// callback runs or has no effect on the in-flight invocation, matching
// spec.md §4.1's "callback either runs to completion first or is never
// invoked". The timer is lazily removed from the heap at the next
// firing check rather than mutated out-of-band.
func (q *TimerQueue) Cancel(h *Timer) {
	if h.status.CompareAndSwap(int32(TimerScheduled), int32(TimerCancelled)) {
		logTimerCanceled(q.logger, q.loopID, int64(h.seq))
	}
}

// Reschedule moves h to a new absolute due time, expressed as a delay from
// now. Must be called from the owning loop's thread; it is cancel+schedule
// atomic with respect to that thread since no other goroutine mutates the
// heap.
func (q *TimerQueue) Reschedule(h *Timer, delayMS int64) {
	if h.Status() == TimerCancelled || h.index < 0 {
		return
	}
	h.DueMS = q.clock.NowMS() + delayMS
	heap.Fix(&q.heap, h.index)
}

// Adjust shifts h's due time by deltaMS, positive or negative.
func (q *TimerQueue) Adjust(h *Timer, deltaMS int64) {
	if h.Status() == TimerCancelled || h.index < 0 {
		return
	}
	h.DueMS += deltaMS
	heap.Fix(&q.heap, h.index)
}

// NextDeadlineMS returns the due time of the earliest pending timer and
// true, or (0, false) if the queue is empty. Used by the loop to compute
// its poll timeout.
func (q *TimerQueue) NextDeadlineMS() (int64, bool) {
	for len(q.heap) > 0 && q.heap[0].Status() == TimerCancelled {
		heap.Pop(&q.heap)
	}
	if len(q.heap) == 0 {
		return 0, false
	}
	return q.heap[0].DueMS, true
}

// RunDue pops and invokes every timer whose due time is <= nowMS, in heap
// order (earliest due first, ties by insertion sequence). A ModeAbsolute
// periodic timer is re-armed and pushed back onto the heap before its
// callback is invoked, using the pre-fire due time as the re-arm base, so
// drift never accumulates regardless of callback duration; the callback
// therefore already sees the next due time in DueMS. A ModeRelative
// periodic timer is re-armed from the clock reading taken after its
// callback returns and is pushed back only once this call has finished
// popping, so it fires at most once per RunDue call.
func (q *TimerQueue) RunDue(nowMS int64) int {
	fired := 0
	var rearmed []*Timer
	for len(q.heap) > 0 {
		head := q.heap[0]
		if head.DueMS > nowMS {
			break
		}
		heap.Pop(&q.heap)

		if head.status.Load() == int32(TimerCancelled) {
			continue
		}
		head.status.Store(int32(TimerFiring))
		fired++
		logTimerFired(q.logger, q.loopID, int64(head.seq))

		fireDue := head.DueMS
		if head.PeriodMS > 0 && head.Mode == ModeAbsolute {
			head.DueMS = fireDue + head.PeriodMS
			head.seq = q.nextSeq()
			heap.Push(&q.heap, head)
			head.status.Store(int32(TimerScheduled))
		}

		if head.cb != nil {
			head.cb(head)
		}

		switch {
		case head.PeriodMS > 0 && head.Mode == ModeRelative:
			if head.status.Load() != int32(TimerCancelled) {
				head.DueMS = q.clock.NowMS() + head.PeriodMS
				head.seq = q.nextSeq()
				rearmed = append(rearmed, head)
				head.status.Store(int32(TimerScheduled))
			}
		case head.PeriodMS == 0:
			if head.status.Load() != int32(TimerCancelled) {
				head.status.Store(int32(TimerExpired))
			}
		}
	}
	for _, h := range rearmed {
		heap.Push(&q.heap, h)
	}
	return fired
}

// Len returns the number of timers currently pending (including any not
// yet lazily pruned after cancellation).
func (q *TimerQueue) Len() int { return len(q.heap) }
