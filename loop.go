// Package mio's event loop: a readiness demultiplexer, a timer queue, and
// a soft-event FIFO, following spec.md §4.4's single-loop-step contract.
// Grounded on the teacher's loop.go, trimmed of its dual-path (channel vs.
// poller) latency optimization and its JS-timer/promise/microtask
// integration — this loop has exactly one path per iteration: process
// pending destroys, drain soft events (bounded by a per-iteration budget so
// a misbehaving layer can't starve OS delivery), fire due timers, wait on
// the OS mux and deliver its readiness events to registered Objects, then
// run cross-thread Submit callbacks.
package mio

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// currentGoroutineID parses the running goroutine's numeric ID out of its
// stack trace header, for the loop's off-thread-call detection
// (Loop.onLoopThread). There is no supported API for this; runtime.Stack
// is the standard workaround.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// RunResult is the outcome of a bounded Run call, mirroring spec.md
// §4.4's {DONE|RETURN|TIMEOUT|MISUSE} contract.
type RunResult int

const (
	RunDone RunResult = iota
	RunReturned
	RunTimeout
	RunMisuse
)

func (r RunResult) String() string {
	switch r {
	case RunDone:
		return "DONE"
	case RunReturned:
		return "RETURN"
	case RunTimeout:
		return "TIMEOUT"
	case RunMisuse:
		return "MISUSE"
	default:
		return "UNKNOWN"
	}
}

// LeafFD is an optional capability on a leaf layer (index 0) whose
// transport is backed by a pollable OS file descriptor. A layer whose
// transport sometimes has no OS handle and sometimes does (e.g. a
// TCPClient that takes the goroutine-pump path on a platform or
// transport without a raw fd) may still implement LeafFD structurally and
// report Fd() < 0 for the no-handle case instead; Loop.Add treats a
// negative Fd() as "don't register with the poller", mirroring the
// wakeFd == -1 convention the wake-mechanism files already use for
// Windows. A layer with no OS handle at all is free to simply not
// implement LeafFD either way.
type LeafFD interface {
	Fd() int
	PollEvents() IOEvents
}

var loopIDCounter atomic.Uint64

// Loop is a single-threaded (per goroutine) event loop instance. A Loop
// is not safe to Run concurrently from two goroutines, but Submit,
// Object.Destroy, and Cancel/Done/Return are safe to call from any
// goroutine.
type Loop struct {
	id uint64

	opts    *loopOptions
	state   *FastState
	clock   *Clock
	timers  *TimerQueue
	poller  *FastPoller
	metrics *loopMetrics

	registry *objectRegistry

	wakePipe      int
	wakePipeWrite int

	submitMu    sync.Mutex
	submit      *ChunkedIngress
	destroyMu   sync.Mutex
	destroyList []*Object

	softPendingMu  sync.Mutex
	softPending    []*Object
	softPendingSet map[uint64]bool

	loopGoroutineID atomic.Uint64
	runResult       atomic.Int32 // holds RunResult+1, 0 = not requested
	closeOnce       sync.Once
}

// NewLoop creates a Loop in the Awake state. The loop is not polling
// anything until Run is called.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	wakeFd, wakeWriteFd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	cfg := resolveLoopOptions(opts)

	l := &Loop{
		id:             loopIDCounter.Add(1),
		opts:           cfg,
		state:          NewFastState(),
		clock:          NewClock(),
		registry:       newObjectRegistry(),
		wakePipe:       wakeFd,
		wakePipeWrite:  wakeWriteFd,
		submit:         NewChunkedIngress(),
		softPendingSet: make(map[uint64]bool),
	}
	l.timers = NewTimerQueue(l.clock)
	l.timers.SetLogger(cfg.logger, int64(l.id))
	if cfg.metricsEnabled {
		l.metrics = &loopMetrics{}
	}

	poller := &FastPoller{}
	if err := poller.Init(); err != nil {
		closeWakeFd(wakeFd, wakeWriteFd)
		return nil, err
	}
	l.poller = poller

	// On Windows wakeFd is -1: IOCP wake-up rides PostQueuedCompletionStatus
	// directly against the port, not a pollable descriptor.
	if wakeFd >= 0 {
		if err := l.poller.RegisterFD(wakeFd, PollRead, func(IOEvents) {
			var buf [8]byte
			for {
				n, err := readFD(wakeFd, buf[:])
				if err != nil || n <= 0 {
					break
				}
			}
		}); err != nil {
			closeWakeFd(wakeFd, wakeWriteFd)
			return nil, err
		}
	}

	return l, nil
}

// ID returns this loop's identity, stable for its lifetime; used in log
// fields and metrics.
func (l *Loop) ID() uint64 { return l.id }

// Logger returns the logger this loop was constructed with (never nil;
// resolves to the package no-op logger).
func (l *Loop) Logger() *Logger { return resolveLogger(l.opts.logger) }

func (l *Loop) onLoopThread() bool {
	return l.loopGoroutineID.Load() == currentGoroutineID()
}

// Add registers obj with this loop, assigning it a handle and, if its
// leaf layer implements LeafFD, arming OS readiness for it.
func (l *Loop) Add(obj *Object) error {
	if obj.loop != nil {
		return ErrObjectAlreadyOwned
	}
	id := l.registry.Add(obj)
	obj.id = id
	obj.loop = l

	if leaf, ok := obj.layers[0].(LeafFD); ok {
		if fd := leaf.Fd(); fd >= 0 {
			events := leaf.PollEvents()
			if err := l.poller.RegisterFD(fd, events, func(pe IOEvents) {
				l.deliverPollEvents(obj, pe)
			}); err != nil {
				l.registry.Remove(id)
				obj.loop = nil
				return err
			}
		}
	}
	for _, layer := range obj.layers {
		if starter, ok := layer.(Starter); ok {
			starter.Start(obj)
		}
	}
	return nil
}

// Remove unregisters obj without destroying it (its layers remain live;
// the caller is responsible for eventually calling Destroy).
func (l *Loop) Remove(obj *Object) error {
	if obj.loop != l {
		return ErrObjectNotOwned
	}
	if leaf, ok := obj.layers[0].(LeafFD); ok {
		if fd := leaf.Fd(); fd >= 0 {
			_ = l.poller.UnregisterFD(fd)
		}
	}
	l.registry.Remove(obj.id)
	obj.loop = nil
	return nil
}

func (l *Loop) forget(obj *Object) {
	if leaf, ok := obj.layers[0].(LeafFD); ok {
		if fd := leaf.Fd(); fd >= 0 {
			_ = l.poller.UnregisterFD(fd)
		}
	}
	l.registry.Remove(obj.id)
}

// deliverPollEvents converts the poller's bitmask into discrete
// ObjectEvents and delivers each, leaf-upward, via Object.DeliverOSEvent.
func (l *Loop) deliverPollEvents(obj *Object, pe IOEvents) {
	if l.metrics != nil {
		l.metrics.osEventCount.Add(1)
	}
	if pe&PollError != 0 {
		obj.DeliverOSEvent(ObjectEvent{Kind: EventError, Err: ErrorGeneric})
		return
	}
	if pe&PollHangup != 0 {
		obj.DeliverOSEvent(ObjectEvent{Kind: EventDisconnect, Err: Disconnect})
	}
	if pe&PollRead != 0 {
		obj.DeliverOSEvent(ObjectEvent{Kind: EventRead})
	}
	if pe&PollWrite != 0 {
		obj.DeliverOSEvent(ObjectEvent{Kind: EventWrite})
	}
}

// Timers exposes the loop's timer queue for Schedule/Cancel/Reschedule/
// Adjust. Scheduling is only valid on the owning loop's goroutine;
// scheduling from elsewhere should go through Submit.
func (l *Loop) Timers() *TimerQueue { return l.timers }

// Submit enqueues fn to run on the loop's goroutine and wakes the loop if
// it is blocked in poll. Safe to call from any goroutine.
func (l *Loop) Submit(fn func()) error {
	if l.state.Load() == StateTerminated {
		return ErrLoopTerminated
	}
	l.submitMu.Lock()
	l.submit.Push(fn)
	depth := l.submit.Length()
	l.submitMu.Unlock()
	if l.metrics != nil {
		l.metrics.queue.UpdateSubmit(depth)
	}
	l.wake()
	return nil
}

func (l *Loop) enqueueDestroy(obj *Object) {
	l.destroyMu.Lock()
	l.destroyList = append(l.destroyList, obj)
	l.destroyMu.Unlock()
	l.wake()
}

func (l *Loop) registerSoftPending(obj *Object) {
	l.softPendingMu.Lock()
	if !l.softPendingSet[obj.id] {
		l.softPendingSet[obj.id] = true
		l.softPending = append(l.softPending, obj)
	}
	l.softPendingMu.Unlock()
	l.wake()
}

// wake interrupts a blocked poll() by writing to the self-pipe/eventfd,
// or, on Windows where there is no wake descriptor, by posting a NULL
// completion to the IOCP port.
func (l *Loop) wake() {
	if l.wakePipeWrite < 0 {
		_ = l.poller.Wakeup()
		return
	}
	buf := [8]byte{1, 0, 0, 0, 0, 0, 0, 0}
	_, _ = writeFD(l.wakePipeWrite, buf[:])
}

// Run executes the loop per spec.md §4.4's single-step contract until
// Done, Return, ctx cancellation, or (if timeout > 0) an iteration that
// polls no OS event and drains no soft event ends after timeout has passed
// since Run started. timeout <= 0 means no timeout: the loop blocks until Done,
// Return, or ctx is cancelled.
func (l *Loop) Run(ctx context.Context, timeout time.Duration) (RunResult, error) {
	if !l.state.TryTransition(StateAwake, StateRunning) &&
		!l.state.TryTransition(StateTerminating, StateRunning) {
		return RunMisuse, ErrLoopAlreadyRunning
	}
	l.loopGoroutineID.Store(currentGoroutineID())
	defer l.loopGoroutineID.Store(0)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.wake()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if err := ctx.Err(); err != nil {
			l.state.Store(StateTerminated)
			return RunMisuse, err
		}

		tickStart := time.Now()
		l.processDestroys()

		drained := l.drainAllSoftPending()

		now := l.clock.NowMS()
		fired := l.timers.RunDue(now)
		tickDur := time.Since(tickStart)
		if l.metrics != nil {
			if fired > 0 {
				l.metrics.timerCount.Add(uint64(fired))
			}
			l.metrics.processTime.Record(tickDur)
		}

		waitMS := l.computeWait(deadline)
		l.state.TryTransition(StateRunning, StateSleeping)
		n, err := l.poller.PollIO(waitMS)
		l.state.TryTransition(StateSleeping, StateRunning)
		if err != nil {
			logPollError(l.Logger(), int64(l.id), err, true)
			l.state.Store(StateTerminated)
			return RunMisuse, err
		}
		if l.metrics != nil {
			l.metrics.wakeCount.Add(1)
		}

		l.processSubmitted()

		if r, ok := l.consumeRunResult(); ok {
			l.shutdownLoop()
			return r, nil
		}

		if n == 0 && drained == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			l.state.Store(StateTerminated)
			return RunTimeout, nil
		}
	}
}

// consumeRunResult reports whether Done()/Return() was called, and
// clears the request.
func (l *Loop) consumeRunResult() (RunResult, bool) {
	v := l.runResult.Swap(0)
	if v == 0 {
		return 0, false
	}
	return RunResult(v - 1), true
}

// Done requests cooperative shutdown with RunDone: the current iteration
// completes, then Run returns.
func (l *Loop) Done() {
	l.runResult.CompareAndSwap(0, int32(RunDone)+1)
	l.wake()
}

// Return requests cooperative shutdown with RunReturned.
func (l *Loop) Return() {
	l.runResult.CompareAndSwap(0, int32(RunReturned)+1)
	l.wake()
}

// DoneWithDisconnect initiates graceful disconnect on every registered
// object, waits up to grace for DISCONNECTED/ERROR, then forces teardown
// at hard, before requesting RunDone.
func (l *Loop) DoneWithDisconnect(grace, hard time.Duration) {
	var objs []*Object
	l.registry.Each(func(_ uint64, o *Object) { objs = append(objs, o) })
	for _, o := range objs {
		o.Disconnect()
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		allDone := true
		for _, o := range objs {
			s := o.GetState()
			if s != StateDisconnected && s != StateError {
				allDone = false
				break
			}
		}
		if allDone {
			break
		}
		time.Sleep(time.Millisecond)
	}
	hardDeadline := time.Now().Add(hard)
	for _, o := range objs {
		if time.Now().After(hardDeadline) {
			break
		}
		o.Destroy()
	}
	l.Done()
}

func (l *Loop) processDestroys() {
	l.destroyMu.Lock()
	pending := l.destroyList
	l.destroyList = nil
	l.destroyMu.Unlock()
	for _, o := range pending {
		o.destroyNow()
	}
}

func (l *Loop) drainAllSoftPending() int {
	total := 0
	budget := l.opts.softEventBudget
	for total < budget {
		l.softPendingMu.Lock()
		if len(l.softPending) == 0 {
			l.softPendingMu.Unlock()
			break
		}
		obj := l.softPending[0]
		l.softPending = l.softPending[1:]
		delete(l.softPendingSet, obj.id)
		l.softPendingMu.Unlock()

		n := obj.DrainSoft(budget - total)
		total += n
		if obj.HasPendingSoft() {
			l.registerSoftPending(obj)
		}
	}
	if l.metrics != nil {
		l.metrics.softEventCount.Add(uint64(total))
		l.metrics.queue.UpdateSoft(total)
	}
	return total
}

func (l *Loop) processSubmitted() {
	const budget = 1024
	for i := 0; i < budget; i++ {
		l.submitMu.Lock()
		fn, ok := l.submit.Pop()
		l.submitMu.Unlock()
		if !ok {
			break
		}
		l.safeExecute(fn)
	}
}

// safeExecute runs fn with panic recovery, logging and discarding the
// panic rather than killing the loop's goroutine.
func (l *Loop) safeExecute(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logCallbackPanic(l.Logger(), int64(l.id), 0, &panicError{value: r})
		}
	}()
	fn()
}

// computeWait returns the poll timeout in milliseconds: capped by the
// next timer deadline, the caller-supplied Run deadline, and
// opts.maxPollTimeout.
func (l *Loop) computeWait(deadline time.Time) int {
	wait := l.opts.maxPollTimeout

	if due, ok := l.timers.NextDeadlineMS(); ok {
		now := l.clock.NowMS()
		d := time.Duration(due-now) * time.Millisecond
		if d < 0 {
			d = 0
		}
		if d < wait {
			wait = d
		}
	}
	if !deadline.IsZero() {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
			if wait < 0 {
				wait = 0
			}
		}
	}
	if wait > 0 && wait < time.Millisecond {
		return 1
	}
	return int(wait.Milliseconds())
}

func (l *Loop) shutdownLoop() {
	l.state.Store(StateTerminated)
	var objs []*Object
	l.registry.Each(func(_ uint64, o *Object) { objs = append(objs, o) })
	for _, o := range objs {
		o.Destroy()
	}
}

// RegisterFD exposes low-level readiness registration directly, for
// adapters that manage their own FD lifecycle outside of LeafFD.
func (l *Loop) RegisterFD(fd int, events IOEvents, cb func(IOEvents)) error {
	return l.poller.RegisterFD(fd, events, cb)
}

// UnregisterFD removes a directly-registered FD.
func (l *Loop) UnregisterFD(fd int) error {
	return l.poller.UnregisterFD(fd)
}

// ModifyFD updates the monitored events for a directly-registered FD.
func (l *Loop) ModifyFD(fd int, events IOEvents) error {
	return l.poller.ModifyFD(fd, events)
}

// NowMS returns the loop's monotonic clock reading.
func (l *Loop) NowMS() int64 { return l.clock.NowMS() }

// Metrics returns a point-in-time statistics snapshot. Returns the zero
// value if metrics collection was not enabled via WithMetrics.
func (l *Loop) Metrics() Metrics {
	if l.metrics == nil {
		return Metrics{}
	}
	l.metrics.processTime.Sample()
	return l.metrics.snapshot()
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Close releases the loop's wake fd and poller resources. Safe to call
// multiple times; only the first call has effect.
func (l *Loop) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.poller.Close()
		closeWakeFd(l.wakePipe, l.wakePipeWrite)
	})
	return err
}
