package mio

import (
	"sync"
	"sync/atomic"
)

// ObjectCallback receives the final event after it has traversed every
// layer (or the rewritten form of it) without being consumed.
type ObjectCallback func(ev ObjectEvent)

// TraceEvent is delivered to an Object's trace hook, per spec.md §4.3:
// every READ/WRITE (pre-transformation buffer, at the layer that produced
// it) and every event delivery.
type TraceEvent struct {
	LayerIndex int
	LayerName  string
	Event      ObjectEvent
}

// TraceHook observes an Object's traffic and event delivery without being
// able to alter it.
type TraceHook func(TraceEvent)

// queuedSoft is one soft event awaiting delivery, produced either
// synchronously from within ProcessEvent (INJECT) or asynchronously via
// LayerContext.PostSoftEvent (e.g. from a timer callback).
type queuedSoft struct {
	startIndex int // layer to resume propagation from
	dir        Direction
	event      ObjectEvent
}

// Object is an I/O object: an ordered, immutable-after-registration stack
// of Layers, owned by at most one loop at a time. Layer index 0 is the
// leaf (owns the OS handle, if any); the last layer is the top, which is
// what Read/Write/Accept/Disconnect operate on.
type Object struct {
	mu sync.Mutex // guards pendingSoft and pendingQueue

	id        uint64
	loop      *Loop
	layers    []Layer
	ctxs      []LayerContext
	cb        ObjectCallback
	UserData  any
	traceHook TraceHook

	lastErr     IOError
	lastErrText string

	destroyed    atomic.Bool
	pendingSoft  []queuedSoft
	pendingQueue bool // true while registered on loop.softPending
}

// NewObject builds an Object from an ordered layer stack, leaf first. The
// stack is fixed for the object's lifetime once it is registered with a
// loop (spec.md §3's "layer sequence is fixed after user-facing
// registration").
func NewObject(layers ...Layer) *Object {
	if len(layers) == 0 {
		panic("mio: object must have at least one layer")
	}
	o := &Object{
		layers: append([]Layer(nil), layers...),
	}
	o.ctxs = make([]LayerContext, len(layers))
	for i := range o.ctxs {
		o.ctxs[i] = LayerContext{object: o, index: i}
	}
	return o
}

// OnEvent sets the callback invoked with events that survive propagation
// to the top of the stack.
func (o *Object) OnEvent(cb ObjectCallback) { o.cb = cb }

// SetTraceHook installs (or clears, with nil) the object's single trace
// hook.
func (o *Object) SetTraceHook(h TraceHook) { o.traceHook = h }

// ID returns the handle assigned at registration, or 0 if unregistered.
func (o *Object) ID() uint64 { return o.id }

func (o *Object) top() Layer { return o.layers[len(o.layers)-1] }

func (o *Object) trace(idx int, ev ObjectEvent) {
	if o.traceHook == nil {
		return
	}
	o.traceHook(TraceEvent{LayerIndex: idx, LayerName: o.layers[idx].LayerName(), Event: ev})
}

// deliverFrom walks ev upward starting at startIndex (inclusive), applying
// each layer's ProcessEvent verdict, and invokes the user callback once
// the event survives past the top layer. This is spec.md §4.3's core
// event-delivery algorithm.
func (o *Object) deliverFrom(startIndex int, ev ObjectEvent) {
	for i := startIndex; i < len(o.layers); i++ {
		o.trace(i, ev)
		v := o.layers[i].ProcessEvent(&o.ctxs[i], ev)
		switch v.Action {
		case Consume:
			return
		case Rewrite:
			ev = v.Event
		case Pass:
			// unchanged
		}
	}
	if ev.Kind == EventError || ev.Kind == EventDisconnect {
		o.lastErr = ev.Err
	}
	if o.cb != nil {
		o.cb(ev)
	}
}

// DeliverOSEvent is how a leaf layer reports OS readiness (or a
// synthesized CONNECTED/ACCEPT/DISCONNECT/ERROR) for this object, always
// starting propagation at layer 0. Per spec.md §5/§8, every layer and user
// callback must run on the owning loop's own goroutine; a goroutine-pump
// adapter (TCPClient's fallback path, TCPServer's accept loop, Process,
// Serial, TLS's handshake goroutine) calls this from a background
// goroutine it doesn't control the scheduling of, so — mirroring
// Object.Destroy's off-thread forwarding — a call arriving off the
// owning loop's thread is marshaled onto it via Submit rather than
// running deliverFrom (and thus the user callback) inline.
func (o *Object) DeliverOSEvent(ev ObjectEvent) {
	if o.loop != nil && !o.loop.onLoopThread() {
		_ = o.loop.Submit(func() { o.deliverFrom(0, ev) })
		return
	}
	o.deliverFrom(0, ev)
}

// postSoftEvent implements LayerContext.PostSoftEvent and the async
// post_soft_event path: it queues ev and, if this is the object's first
// pending soft event, registers the object with its loop so the event is
// drained before the loop's next OS wait.
func (o *Object) postSoftEvent(fromIndex int, dir Direction, ev ObjectEvent) {
	o.mu.Lock()
	var start int
	if dir == Upward {
		start = fromIndex + 1
	} else {
		start = fromIndex - 1
	}
	o.pendingSoft = append(o.pendingSoft, queuedSoft{startIndex: start, dir: dir, event: ev})
	needRegister := !o.pendingQueue
	if needRegister {
		o.pendingQueue = true
	}
	o.mu.Unlock()

	if needRegister && o.loop != nil {
		o.loop.registerSoftPending(o)
	}
}

// HasPendingSoft reports whether any soft event is queued.
func (o *Object) HasPendingSoft() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pendingSoft) > 0
}

// DrainSoft processes up to budget queued soft events, returning how many
// were actually processed. Upward events resume the normal deliverFrom
// walk; downward events (toward the OS-facing leaf) walk layers from
// startIndex down to 0, giving each a chance to translate or suppress
// before the leaf acts on it, then leaves leaf-level handling to that
// layer's own ProcessEvent implementation (e.g. performing a deferred
// write).
func (o *Object) DrainSoft(budget int) int {
	drained := 0
	for drained < budget {
		o.mu.Lock()
		if len(o.pendingSoft) == 0 {
			o.pendingQueue = false
			o.mu.Unlock()
			break
		}
		next := o.pendingSoft[0]
		o.pendingSoft = o.pendingSoft[1:]
		o.mu.Unlock()

		switch next.dir {
		case Upward:
			start := next.startIndex
			if start < 0 {
				start = 0
			}
			o.deliverFrom(start, next.event)
		case Downward:
			o.deliverDownward(next.startIndex, next.event)
		}
		drained++
	}
	return drained
}

// deliverDownward walks ev from startIndex down to layer 0, the mirror of
// deliverFrom used for soft events injected toward the OS-facing leaf.
func (o *Object) deliverDownward(startIndex int, ev ObjectEvent) {
	if startIndex >= len(o.layers) {
		startIndex = len(o.layers) - 1
	}
	for i := startIndex; i >= 0; i-- {
		o.trace(i, ev)
		v := o.layers[i].ProcessEvent(&o.ctxs[i], ev)
		switch v.Action {
		case Consume:
			return
		case Rewrite:
			ev = v.Event
		case Pass:
		}
	}
}

// Read reads from the top layer, if it implements Reader.
func (o *Object) Read(buf []byte) (int, IOError) {
	r, ok := o.top().(Reader)
	if !ok {
		return 0, NotImplemented
	}
	n, err := r.Read(buf)
	if n > 0 {
		o.trace(len(o.layers)-1, ObjectEvent{Kind: EventRead, Data: buf[:n]})
	}
	return n, err
}

// ReadInto reads available bytes into a GrowableBuffer, looping until
// WouldBlock or an error.
func (o *Object) ReadInto(gb GrowableBuffer) (int, IOError) {
	r, ok := o.top().(Reader)
	if !ok {
		return 0, NotImplemented
	}
	total := 0
	scratch := make([]byte, 4096)
	for {
		n, err := r.Read(scratch)
		if n > 0 {
			gb.Append(scratch[:n])
			total += n
		}
		if err != Success {
			return total, err
		}
		if n == 0 {
			return total, Success
		}
	}
}

// ReadIntoParser streams available bytes through a ParserSink.
func (o *Object) ReadIntoParser(sink ParserSink) (int, IOError) {
	r, ok := o.top().(Reader)
	if !ok {
		return 0, NotImplemented
	}
	total := 0
	scratch := make([]byte, 4096)
	for {
		n, err := r.Read(scratch)
		if n > 0 {
			sink.Feed(scratch[:n])
			total += n
		}
		if err != Success {
			return total, err
		}
		if n == 0 {
			return total, Success
		}
	}
}

// ReadClear discards any buffered-but-unread layer state without tearing
// down the transport, by calling Reset on every layer that implements
// Resetter.
func (o *Object) ReadClear() {
	for _, l := range o.layers {
		if r, ok := l.(Resetter); ok {
			r.Reset()
		}
	}
}

// Write writes to the top layer, if it implements Writer.
func (o *Object) Write(buf []byte) (int, IOError) {
	w, ok := o.top().(Writer)
	if !ok {
		return 0, NotImplemented
	}
	n, err := w.Write(buf)
	if n > 0 {
		o.trace(len(o.layers)-1, ObjectEvent{Kind: EventWrite, Data: buf[:n]})
	}
	return n, err
}

// WriteFrom drains a GrowableBuffer through Write until WouldBlock, an
// error, or the buffer is empty.
func (o *Object) WriteFrom(gb GrowableBuffer) (int, IOError) {
	w, ok := o.top().(Writer)
	if !ok {
		return 0, NotImplemented
	}
	total := 0
	for gb.Len() > 0 {
		n, err := w.Write(gb.Bytes())
		if n > 0 {
			gb.Advance(n)
			total += n
		}
		if err != Success {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, Success
}

// Accept produces a new Object from a listener's top layer.
func (o *Object) Accept() (*Object, IOError) {
	a, ok := o.top().(Accepter)
	if !ok {
		return nil, NotImplemented
	}
	return a.Accept()
}

// Disconnect walks the stack top-down calling Disconnect on every layer
// that implements Disconnecter, per spec.md §4.3's disconnect semantics.
// Once the bottom layer completes, a DISCONNECT event is delivered
// upward and the object is marked DISCONNECTED.
func (o *Object) Disconnect() IOError {
	var last IOError = Success
	for i := len(o.layers) - 1; i >= 0; i-- {
		if d, ok := o.layers[i].(Disconnecter); ok {
			if err := d.Disconnect(); err != Success && err != WouldBlock {
				last = err
			}
		}
	}
	o.deliverFrom(0, ObjectEvent{Kind: EventDisconnect, Err: last})
	return last
}

// Destroy tears the object down immediately. If called from a goroutine
// other than the owning loop's, the request is forwarded to the loop and
// processed at the next iteration boundary, per spec.md §4.3's "destroy
// from any thread".
func (o *Object) Destroy() {
	if !o.destroyed.CompareAndSwap(false, true) {
		return
	}
	if o.loop != nil && !o.loop.onLoopThread() {
		o.loop.enqueueDestroy(o)
		return
	}
	o.destroyNow()
}

// destroyNow performs the synchronous teardown; must run on the owning
// loop's thread (or before the object was ever registered with one).
func (o *Object) destroyNow() {
	for i := len(o.layers) - 1; i >= 0; i-- {
		if d, ok := o.layers[i].(Destroyer); ok {
			d.Destroy()
		}
	}
	reason := "explicit"
	if o.loop != nil {
		logObjectDestroyed(o.loop.Logger(), o.id, reason)
		o.loop.forget(o)
	}
}

// GetState returns the aggregate object state across all layers that
// implement Stater.
func (o *Object) GetState() ObjectState {
	var states []ObjectState
	for _, l := range o.layers {
		if s, ok := l.(Stater); ok {
			states = append(states, s.LayerState())
		}
	}
	return AggregateState(states)
}

// GetErrorString returns the most specific available error message: the
// topmost layer implementing ErrMessager with a non-empty string, falling
// back to the last recorded IOError's own description.
func (o *Object) GetErrorString() string {
	for i := len(o.layers) - 1; i >= 0; i-- {
		if m, ok := o.layers[i].(ErrMessager); ok {
			if s := m.ErrorString(); s != "" {
				return s
			}
		}
	}
	return o.lastErrText
}

// Reconnect re-establishes a torn-down connection, but only if every layer
// in the stack implements Reconnecter.
func (o *Object) Reconnect() IOError {
	for _, l := range o.layers {
		if _, ok := l.(Reconnecter); !ok {
			return NotImplemented
		}
	}
	for i := 0; i < len(o.layers); i++ {
		if err := o.layers[i].(Reconnecter).Reconnect(); err != Success {
			return err
		}
	}
	return Success
}
