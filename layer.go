package mio

// Layer is the minimal contract every element of an Object's layer stack
// must satisfy: a name for diagnostics/tracing, and the bottom-up event
// propagation hook. Everything else — Read, Write, Accept, Disconnect,
// Reset, Destroy, ErrMessage, State, Reconnect — is an optional capability
// detected via type assertion, mirroring how the standard library layers
// optional behavior onto io.Reader (io.Closer, io.ReaderAt, io.WriterTo):
// a Layer only implements the sub-interfaces its role actually needs, and
// Object discovers them structurally rather than through a fixed vtable.
// This is the idiomatic-Go rendering of spec.md §9's capability-set
// redesign note.
type Layer interface {
	// LayerName identifies the layer for tracing and error messages (e.g.
	// "tcp", "tls", "bwshape").
	LayerName() string

	// ProcessEvent is invoked as an event walks upward through the layer
	// stack. ctx exposes the facilities a layer needs to participate in
	// propagation: its owning Object, its index, and posting a soft event
	// in either direction. The layer returns a Verdict describing
	// how propagation should continue.
	ProcessEvent(ctx *LayerContext, ev ObjectEvent) Verdict
}

// LayerContext is handed to ProcessEvent and to the operations below; it
// is the layer's only avenue for side effects that reach outside itself
// (posting a soft event). It gives no access to the loop's clock.
type LayerContext struct {
	object *Object
	index  int // this layer's position in the stack
}

// Object returns the owning I/O object.
func (c *LayerContext) Object() *Object { return c.object }

// Index returns this layer's position in the stack (0 = leaf).
func (c *LayerContext) Index() int { return c.index }

// PostSoftEvent enqueues ev to be delivered starting at this layer's
// neighbor in dir on the next loop iteration (or sooner, if the loop is
// mid-delivery and soft events are still within budget for this tick).
// This is the mechanism spec.md §4.3 calls "inject(soft_event, direction)"
// when invoked synchronously from within ProcessEvent, and "post_soft_event"
// when invoked asynchronously (e.g. from a timer callback).
func (c *LayerContext) PostSoftEvent(dir Direction, ev ObjectEvent) {
	c.object.postSoftEvent(c.index, dir, ev)
}

// Reader is the optional read capability. Implementations serve bytes from
// an internal buffer, translate from a lower layer (decrypt, decompress),
// or return WouldBlock having first re-armed readiness interest.
type Reader interface {
	Read(buf []byte) (n int, err IOError)
}

// Writer is the optional write capability. A partial write is normal; a
// layer that buffers the remainder must ensure a future WRITE event fires.
type Writer interface {
	Write(buf []byte) (n int, err IOError)
}

// Accepter is implemented by listener leaf layers.
type Accepter interface {
	Accept() (*Object, IOError)
}

// Disconnecter participates in top-down graceful shutdown; it may flush
// buffered writes before returning. Object.Disconnect sets no deadline
// for it.
type Disconnecter interface {
	Disconnect() IOError
}

// Resetter clears layer-local buffered state without tearing down the
// underlying transport (used by read_clear()).
type Resetter interface {
	Reset()
}

// Destroyer performs immediate, synchronous teardown of layer-owned
// resources. Safe to invoke from any thread; Object.Destroy serializes
// calls onto the owning loop thread before invoking it.
type Destroyer interface {
	Destroy()
}

// ErrMessager supplies a human-readable string for the layer's last error,
// consulted by Object.GetErrorString (the topmost non-empty string wins).
type ErrMessager interface {
	ErrorString() string
}

// Stater reports this layer's contribution to the object-wide state
// aggregation (see objectstate.go).
type Stater interface {
	LayerState() ObjectState
}

// Reconnecter is implemented only by layers that support re-establishing a
// torn-down connection in place. Object.Reconnect requires every layer in
// the stack to implement it.
type Reconnecter interface {
	Reconnect() IOError
}

// Starter is implemented by layers that need a handle back to their owning
// Object once it's registered — typically to launch a background pump
// goroutine that wakes the object via Object.DeliverOSEvent, for leaf
// layers with no OS handle a poller can arm (see mio.LeafFD). Loop.Add
// calls Start on every layer in the stack that implements it, in leaf-to-
// top order, after the object has a valid handle.
type Starter interface {
	Start(obj *Object)
}
