// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package mio

import "time"

// loopOptions holds configuration resolved from a LoopOption list.
type loopOptions struct {
	metricsEnabled   bool
	logger           *Logger
	softEventBudget  int
	maxPollTimeout   time.Duration
}

// LoopOption configures a Loop at construction.
type LoopOption interface {
	applyLoop(*loopOptions)
}

type loopOptionFunc func(*loopOptions)

func (f loopOptionFunc) applyLoop(o *loopOptions) { f(o) }

// WithMetrics enables runtime statistics collection (wake/process-time/
// osevent/softevent/timer counters), readable via Loop.Metrics without
// locking.
func WithMetrics(enabled bool) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.metricsEnabled = enabled })
}

// WithLogger attaches a structured logger. A nil logger (the default) is
// a documented no-op.
func WithLogger(l *Logger) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.logger = l })
}

// WithSoftEventBudget bounds how many soft events a single loop iteration
// will drain before moving on to the next OS poll, preventing a
// pathological layer stack (e.g. a misbehaving INJECT loop) from
// starving OS readiness delivery. Default 4096.
func WithSoftEventBudget(n int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.softEventBudget = n })
}

// WithMaxPollTimeout caps how long a single poll() call may block even
// with no timers pending, so the loop periodically re-checks for
// cross-thread Submit/Destroy traffic. Default 10s, matching the
// teacher's own ceiling.
func WithMaxPollTimeout(d time.Duration) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.maxPollTimeout = d })
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{
		softEventBudget: 4096,
		maxPollTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyLoop(cfg)
		}
	}
	return cfg
}
