package adapters

import (
	"net"
	"sync"

	mio "github.com/Monetra/go-mio"
)

// TCPServer is a leaf Layer wrapping a net.Listener. It has no read/write
// capability of its own; it implements mio.Accepter, handing back a fresh
// *mio.Object (wrapping a *TCPClient) for each inbound connection, per
// spec.md §4.5's accept fan-out: the new object inherits none of the
// listener's own layer stack automatically — set AcceptFunc to compose
// per-connection layers (TLS, bandwidth shaping) around the accepted
// net.Conn; leaving it nil produces a bare *TCPClient leaf.
type TCPServer struct {
	ln net.Listener

	// AcceptFunc builds the layer stack for a freshly accepted connection.
	// When nil, the new object is just a bare *TCPClient leaf.
	AcceptFunc func(conn net.Conn) []mio.Layer

	pending connQueue

	state     mio.ObjectState
	lastMsg   string
	obj       *mio.Object
	closeOnce sync.Once
}

// ListenTCP starts a TCP listener on addr (host:port, per net.Listen).
func ListenTCP(network, addr string) (*TCPServer, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return &TCPServer{ln: ln, state: mio.StateConnected}, nil
}

// NewTCPServer wraps an already-listening net.Listener (e.g. one obtained
// from a systemd socket activation helper, or net.FileListener).
func NewTCPServer(ln net.Listener) *TCPServer {
	return &TCPServer{ln: ln, state: mio.StateConnected}
}

func (s *TCPServer) LayerName() string { return "tcp-server" }

// Start records the owning object. A TCPServer has no OS handle of its own
// that the loop's poller can arm directly (net.Listener doesn't expose one
// portably either), so accept readiness is driven the same way TCPClient's
// fallback path is: a background goroutine blocked in Accept, waking the
// object via DeliverOSEvent.
func (s *TCPServer) Start(obj *mio.Object) {
	s.obj = obj
	go s.acceptLoop()
}

func (s *TCPServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			ioErr := mio.IOErrorFromSyscall(err)
			// lastMsg/state are mutated from ProcessEvent, on the loop's
			// own goroutine once DeliverOSEvent marshals this event onto
			// it — not here, to avoid racing loop-thread reads of either
			// field (e.g. via LayerState/ErrorString).
			s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventError, Err: ioErr, Notice: err.Error()})
			return
		}
		s.pending.push(conn)
		s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventAccept})
	}
}

func (s *TCPServer) ProcessEvent(ctx *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	if ev.Kind == mio.EventError {
		s.state = mio.StateError
		s.lastMsg = ev.Notice
	}
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

// Accept satisfies mio.Accepter: it drains one connection already handed
// off by acceptLoop and wraps it per AcceptFunc (or bare, if nil). The
// returned object isn't registered with a loop yet — the caller still
// calls Loop.Add, which is what actually launches any Starter-implementing
// layer's pump goroutine (including a bare TCPClient's).
func (s *TCPServer) Accept() (*mio.Object, mio.IOError) {
	conn, ok := s.pending.pop()
	if !ok {
		return nil, mio.WouldBlock
	}
	var layers []mio.Layer
	if s.AcceptFunc != nil {
		layers = s.AcceptFunc(conn)
	}
	if len(layers) == 0 {
		layers = []mio.Layer{NewTCPClient(conn)}
	}
	return mio.NewObject(layers...), mio.Success
}

func (s *TCPServer) Disconnect() mio.IOError {
	var outErr mio.IOError
	s.closeOnce.Do(func() {
		if err := s.ln.Close(); err != nil {
			outErr = mio.IOErrorFromSyscall(err)
			return
		}
		outErr = mio.Success
	})
	s.state = mio.StateDisconnected
	return outErr
}

func (s *TCPServer) Destroy() { s.closeOnce.Do(func() { _ = s.ln.Close() }) }

func (s *TCPServer) ErrorString() string { return s.lastMsg }

func (s *TCPServer) LayerState() mio.ObjectState { return s.state }

func (s *TCPServer) Introspect() (name, version string) { return "tcp-server", "1.0" }

// connQueue holds connections acceptLoop has pulled off the listener but
// Accept hasn't yet been called to claim, matching the non-blocking
// Read/Write/Accept contract: Accept never blocks the loop thread.
type connQueue struct {
	mu    sync.Mutex
	items []net.Conn
}

func (q *connQueue) push(c net.Conn) {
	q.mu.Lock()
	q.items = append(q.items, c)
	q.mu.Unlock()
}

func (q *connQueue) pop() (net.Conn, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	c := q.items[0]
	q.items = q.items[1:]
	return c, true
}
