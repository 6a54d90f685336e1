package mio

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

func nativeLineEndingString() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

var nativeLineEnding = nativeLineEndingString()

// WriterCommand is a bitmask of control signals the owner can OR into a
// running AsyncWriter, observed and cleared by the worker goroutine after
// invoking WriteFunc once per spec.md §4.2's command-merge contract.
type WriterCommand uint32

const (
	// CmdSuspend closes the sink and returns the in-flight message to the
	// head of the queue until CmdResume is observed.
	CmdSuspend WriterCommand = 1 << iota
	// CmdResume reopens the sink after a prior CmdSuspend.
	CmdResume
)

// LineEnding selects the terminator used for synthesized notices (dropped
// message counts, etc.) — not for caller-supplied message bytes, which are
// written as-is.
type LineEnding int

const (
	LineLF LineEnding = iota
	LineCRLF
	LineNative
)

func (e LineEnding) bytes() []byte {
	switch e {
	case LineCRLF:
		return []byte("\r\n")
	case LineNative:
		return []byte(nativeLineEnding)
	default:
		return []byte("\n")
	}
}

// WriteFunc is invoked once per dequeued message (or forced command) on the
// writer's own goroutine. It owns whether msg is considered consumed
// (return true) or returned to the head of the queue for retry (return
// false) — e.g. to retry a short write against a backpressured sink.
type WriteFunc func(msg []byte, cmd WriterCommand, thunk any) (consumed bool)

// StopFunc is invoked once, on the worker goroutine, when the writer is
// stopping (before the goroutine exits).
type StopFunc func(thunk any)

// DestroyFunc is invoked once, on the worker goroutine, when the writer is
// destroyed.
type DestroyFunc func(thunk any)

type writerMsg struct {
	data []byte
}

// AsyncWriter is a bounded mpsc queue plus a dedicated worker goroutine,
// per spec.md §4.2: size-capped with drop-oldest backpressure, a mergeable
// command bitmask (SUSPEND/RESUME), and a worker loop that owns sink
// lifecycle decisions via WriteFunc's return value.
type AsyncWriter struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []writerMsg
	curBytes int
	capacity int

	writeFn   WriteFunc
	stopFn    StopFunc
	destroyFn DestroyFunc
	thunk     any
	lineEnd   LineEnding
	logger    *Logger
	id        int64

	command   atomic.Uint32
	suspended atomic.Bool

	started   atomic.Bool
	stopping  atomic.Bool
	destroyed atomic.Bool
	orphaned  atomic.Bool

	droppedCount   int
	droppedBytes   int
	droppedPending bool

	workerDone chan struct{}

	selfGoroutine atomic.Uint64
}

var writerIDCounter atomic.Int64

// WriterOption configures an AsyncWriter at construction.
type WriterOption func(*AsyncWriter)

// WithWriterLineEnding sets the terminator used for synthesized notices.
func WithWriterLineEnding(e LineEnding) WriterOption {
	return func(w *AsyncWriter) { w.lineEnd = e }
}

// WithWriterLogger attaches a structured logger for dropped-message
// warnings.
func WithWriterLogger(l *Logger) WriterOption {
	return func(w *AsyncWriter) { w.logger = l }
}

// NewAsyncWriter creates a writer with the given byte capacity and
// callbacks. The worker goroutine is not started until Start.
func NewAsyncWriter(capacityBytes int, writeFn WriteFunc, thunk any, stopFn StopFunc, destroyFn DestroyFunc, opts ...WriterOption) *AsyncWriter {
	w := &AsyncWriter{
		capacity:   capacityBytes,
		writeFn:    writeFn,
		stopFn:     stopFn,
		destroyFn:  destroyFn,
		thunk:      thunk,
		lineEnd:    LineLF,
		id:         writerIDCounter.Add(1),
		workerDone: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	for _, o := range opts {
		o(w)
	}
	return w
}

// Start launches the worker goroutine. Safe to call once; subsequent calls
// are no-ops.
func (w *AsyncWriter) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run()
}

// Enqueue offers msg to the queue, applying drop-oldest backpressure if it
// would exceed capacity. Returns whether msg was accepted (acceptance is
// not durability — the worker may still drop it under continued pressure).
func (w *AsyncWriter) Enqueue(msg []byte) bool {
	if w.destroyed.Load() {
		return false
	}
	cp := append([]byte(nil), msg...)

	w.mu.Lock()
	defer w.mu.Unlock()

	if len(cp) > w.capacity {
		w.droppedCount++
		w.droppedBytes += len(cp)
		w.droppedPending = true
		return false
	}
	for w.curBytes+len(cp) > w.capacity && len(w.queue) > 0 {
		old := w.queue[0]
		w.queue = w.queue[1:]
		w.curBytes -= len(old.data)
		w.droppedCount++
		w.droppedBytes += len(old.data)
		w.droppedPending = true
	}
	w.queue = append(w.queue, writerMsg{data: cp})
	w.curBytes += len(cp)
	w.cond.Signal()
	return true
}

// SetCommand OR-merges flag into the pending command bitmask, observed and
// cleared by the worker after its next WriteFunc invocation.
func (w *AsyncWriter) SetCommand(flag WriterCommand) {
	w.command.Or(uint32(flag))
	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
}

// SetCommandBlocking merges flag and waits until the worker has processed
// it (or the writer stops/destructs first).
func (w *AsyncWriter) SetCommandBlocking(flag WriterCommand) {
	w.SetCommand(flag)
	for w.command.Load()&uint32(flag) != 0 && !w.stopping.Load() && !w.destroyed.Load() {
		time.Sleep(time.Millisecond)
	}
}

// Stop blocks until the worker drains its current message and exits.
func (w *AsyncWriter) Stop() {
	if !w.started.Load() {
		return
	}
	w.stopping.Store(true)
	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
	if w.selfGoroutine.Load() != currentGoroutineID() {
		<-w.workerDone
	}
}

// Destroy is the non-blocking teardown variant; flush, if true, lets the
// worker drain its remaining queue before exiting.
func (w *AsyncWriter) Destroy(flush bool) {
	if !w.destroyed.CompareAndSwap(false, true) {
		return
	}
	if !flush {
		w.mu.Lock()
		w.queue = nil
		w.curBytes = 0
		w.mu.Unlock()
	}
	if !w.started.Load() {
		if w.destroyFn != nil {
			w.destroyFn(w.thunk)
		}
		return
	}
	w.mu.Lock()
	w.cond.Signal()
	w.mu.Unlock()
}

// DestroyBlocking is the bounded teardown variant: waits up to timeout for
// the worker to finish, then, on expiry, marks the writer orphaned — the
// worker frees itself on its next iteration rather than being forcibly
// killed (there is no safe-cancellation point mid-WriteFunc).
func (w *AsyncWriter) DestroyBlocking(flush bool, timeout time.Duration) {
	w.Destroy(flush)
	if !w.started.Load() {
		return
	}
	if w.selfGoroutine.Load() == currentGoroutineID() {
		return
	}
	select {
	case <-w.workerDone:
	case <-time.After(timeout):
		w.orphaned.Store(true)
	}
}

func (w *AsyncWriter) run() {
	w.selfGoroutine.Store(currentGoroutineID())
	defer close(w.workerDone)
	defer func() {
		if w.stopFn != nil {
			w.stopFn(w.thunk)
		}
	}()

	for {
		if w.suspended.Load() {
			time.Sleep(time.Millisecond)
			if w.command.Load()&uint32(CmdResume) != 0 {
				w.suspended.Store(false)
			}
			if w.destroyed.Load() && w.queueEmpty() {
				w.finishDestroy()
				return
			}
			continue
		}

		msg, notice, ok := w.dequeue()
		cmd := WriterCommand(w.command.Load())

		if cmd&CmdSuspend != 0 {
			if w.writeFn != nil {
				w.writeFn(nil, cmd, w.thunk)
			}
			w.command.And(^uint32(cmd))
			w.suspended.Store(true)
			if ok {
				w.requeueFront(msg)
			}
			continue
		}

		if notice != nil && w.writeFn != nil {
			w.writeFn(notice, cmd, w.thunk)
		}

		if ok {
			if w.writeFn != nil && !w.writeFn(msg.data, cmd, w.thunk) {
				w.command.And(^uint32(cmd))
				w.requeueFront(msg)
				continue
			}
		} else if cmd != 0 && notice == nil && w.writeFn != nil {
			w.writeFn(nil, cmd, w.thunk)
		}
		w.command.And(^uint32(cmd))

		if w.destroyed.Load() && w.queueEmpty() {
			w.finishDestroy()
			return
		}
		if w.stopping.Load() && w.queueEmpty() {
			return
		}
		if !ok && notice == nil {
			w.waitForWork()
		}
	}
}

func (w *AsyncWriter) finishDestroy() {
	if w.destroyFn != nil {
		w.destroyFn(w.thunk)
	}
}

func (w *AsyncWriter) queueEmpty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue) == 0
}

// dequeue pops the head message, or synthesizes a "dropped N messages"
// notice if drops accumulated since the last dequeue.
func (w *AsyncWriter) dequeue() (msg writerMsg, notice []byte, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.droppedPending {
		notice = formatDroppedNotice(w.droppedCount, w.lineEnd)
		logWriterDropped(w.logger, w.id, w.droppedBytes)
		w.droppedCount = 0
		w.droppedBytes = 0
		w.droppedPending = false
		return writerMsg{}, notice, false
	}
	if len(w.queue) == 0 {
		return writerMsg{}, nil, false
	}
	msg = w.queue[0]
	w.queue = w.queue[1:]
	w.curBytes -= len(msg.data)
	return msg, nil, true
}

func (w *AsyncWriter) requeueFront(msg writerMsg) {
	w.mu.Lock()
	w.queue = append([]writerMsg{msg}, w.queue...)
	w.curBytes += len(msg.data)
	w.mu.Unlock()
}

func (w *AsyncWriter) waitForWork() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.queue) == 0 && w.command.Load() == 0 && !w.stopping.Load() && !w.destroyed.Load() {
		w.cond.Wait()
	}
}

func formatDroppedNotice(n int, le LineEnding) []byte {
	b := []byte("dropped ")
	b = append(b, strconv.Itoa(n)...)
	b = append(b, " messages"...)
	b = append(b, le.bytes()...)
	return b
}
