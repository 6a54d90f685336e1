package mio

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics is a loop's optional runtime statistics snapshot, enabled via
// WithMetrics. Per spec.md §9's "statistics without atomics" note,
// counters are written only by the owning loop goroutine and read without
// locking — Metrics() returns a plain value copy, so a reader may observe
// a slightly stale or torn view under concurrent update, which is an
// acceptable cost for lock-free observability.
type Metrics struct {
	WakeCount       uint64
	OSEventCount    uint64
	SoftEventCount  uint64
	TimerCount      uint64
	ProcessTimeMS   time.Duration
	ProcessTime     LatencyMetrics
	Queue           QueueMetrics
}

// loopMetrics is the live, mutable counter set embedded in a Loop.
type loopMetrics struct {
	wakeCount      atomic.Uint64
	osEventCount   atomic.Uint64
	softEventCount atomic.Uint64
	timerCount     atomic.Uint64
	processTime    LatencyMetrics
	queue          QueueMetrics
}

func (m *loopMetrics) snapshot() Metrics {
	return Metrics{
		WakeCount:      m.wakeCount.Load(),
		OSEventCount:   m.osEventCount.Load(),
		SoftEventCount: m.softEventCount.Load(),
		TimerCount:     m.timerCount.Load(),
		ProcessTimeMS:  m.processTime.Sum,
		ProcessTime:    m.processTime,
		Queue:          m.queue,
	}
}

// LatencyMetrics tracks tick processing-time distribution using the
// P-Square algorithm (psquare.go) for O(1) streaming percentile
// estimation.
type LatencyMetrics struct {
	mu      sync.RWMutex
	psquare *pSquareMultiQuantile

	P50  time.Duration
	P90  time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration
	Mean time.Duration
	Sum  time.Duration
	N    int
}

// Record adds a tick-processing-time sample.
func (l *LatencyMetrics) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.psquare == nil {
		l.psquare = newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.Update(float64(d))
	l.Sum += d
	l.N++
	if d > l.Max {
		l.Max = d
	}
}

// Sample refreshes the cached percentile fields from the P-Square
// estimator. Call periodically (e.g. once per Metrics() call) rather than
// on every Record, since callers read Metrics far less often than ticks
// occur.
func (l *LatencyMetrics) Sample() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.psquare == nil || l.N == 0 {
		return
	}
	l.P50 = time.Duration(l.psquare.Quantile(0.50))
	l.P90 = time.Duration(l.psquare.Quantile(0.90))
	l.P95 = time.Duration(l.psquare.Quantile(0.95))
	l.P99 = time.Duration(l.psquare.Quantile(0.99))
	l.Mean = l.Sum / time.Duration(l.N)
}

// QueueMetrics tracks the depth of the loop's cross-thread submission
// queue and the number of soft events drained per tick, each as
// current/max/EMA(alpha=0.1).
type QueueMetrics struct {
	mu sync.RWMutex

	SubmitCurrent int
	SubmitMax     int
	SubmitAvg     float64
	submitInit    bool

	SoftCurrent int
	SoftMax     int
	SoftAvg     float64
	softInit    bool
}

func (q *QueueMetrics) UpdateSubmit(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.SubmitCurrent = depth
	if depth > q.SubmitMax {
		q.SubmitMax = depth
	}
	if !q.submitInit {
		q.SubmitAvg = float64(depth)
		q.submitInit = true
	} else {
		q.SubmitAvg = 0.9*q.SubmitAvg + 0.1*float64(depth)
	}
}

func (q *QueueMetrics) UpdateSoft(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.SoftCurrent = depth
	if depth > q.SoftMax {
		q.SoftMax = depth
	}
	if !q.softInit {
		q.SoftAvg = float64(depth)
		q.softInit = true
	} else {
		q.SoftAvg = 0.9*q.SoftAvg + 0.1*float64(depth)
	}
}
