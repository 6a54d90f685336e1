package mio

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool fans objects out across n worker Loops, each bound to its own
// goroutine (spec.md §4.4's pool_create contract). A Pool presents a
// single-handle surface to callers: Add picks the least-loaded inner loop
// and that assignment is sticky for the object's lifetime — every event
// for that object fires on that loop's goroutine from then on.
type Pool struct {
	loops []*Loop

	mu     sync.Mutex
	counts []int // object count per loop index, for least-loaded placement

	owner map[uint64]int // object id -> loop index, for Remove routing

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewPool creates n Loops, each with the given options, under one Pool
// handle. n must be at least 1.
func NewPool(n int, opts ...LoopOption) (*Pool, error) {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		loops:  make([]*Loop, n),
		counts: make([]int, n),
		owner:  make(map[uint64]int),
	}
	for i := range p.loops {
		l, err := NewLoop(opts...)
		if err != nil {
			for _, prior := range p.loops[:i] {
				if prior != nil {
					_ = prior.Close()
				}
			}
			return nil, err
		}
		p.loops[i] = l
	}
	return p, nil
}

// Add assigns obj to the least-loaded inner loop. Placement is sticky:
// once assigned, obj's events always fire on that loop's goroutine.
func (p *Pool) Add(obj *Object) error {
	p.mu.Lock()
	idx := 0
	for i, c := range p.counts {
		if c < p.counts[idx] {
			idx = i
		}
	}
	p.counts[idx]++
	p.mu.Unlock()

	l := p.loops[idx]
	if err := l.Add(obj); err != nil {
		p.mu.Lock()
		p.counts[idx]--
		p.mu.Unlock()
		return err
	}
	p.mu.Lock()
	p.owner[obj.ID()] = idx
	p.mu.Unlock()
	return nil
}

// Remove routes to the inner loop obj was originally assigned to.
func (p *Pool) Remove(obj *Object) error {
	p.mu.Lock()
	idx, ok := p.owner[obj.ID()]
	if ok {
		delete(p.owner, obj.ID())
		p.counts[idx]--
	}
	p.mu.Unlock()
	if !ok {
		return ErrObjectNotOwned
	}
	return p.loops[idx].Remove(obj)
}

// Run starts every inner loop concurrently via errgroup, each with its own
// timeout budget, and blocks until all have returned. It returns the first
// non-nil error any loop's Run returned, or nil; the loops' RunResult
// values are not reported.
func (p *Pool) Run(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	p.group = g
	for _, l := range p.loops {
		l := l
		g.Go(func() error {
			_, err := l.Run(gctx, timeout)
			return err
		})
	}
	return g.Wait()
}

// Done requests cooperative shutdown on every inner loop.
func (p *Pool) Done() {
	for _, l := range p.loops {
		l.Done()
	}
}

// DoneWithDisconnect fans graceful-then-forced teardown out to every inner
// loop, per spec.md §4.4's done_with_disconnect.
func (p *Pool) DoneWithDisconnect(grace, hard time.Duration) {
	var wg sync.WaitGroup
	for _, l := range p.loops {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.DoneWithDisconnect(grace, hard)
		}()
	}
	wg.Wait()
}

// Metrics returns each inner loop's statistics, one entry per loop in loop
// order; counters are not summed and latency distributions are not merged.
func (p *Pool) Metrics() []Metrics {
	out := make([]Metrics, len(p.loops))
	for i, l := range p.loops {
		out[i] = l.Metrics()
	}
	return out
}

// Size returns the number of inner loops.
func (p *Pool) Size() int { return len(p.loops) }

// Close releases every inner loop's resources.
func (p *Pool) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	var firstErr error
	for _, l := range p.loops {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
