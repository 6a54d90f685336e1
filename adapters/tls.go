package adapters

import (
	"crypto/tls"
	"net"

	mio "github.com/Monetra/go-mio"
)

// TLS is a Layer wrapping a net.Conn in a *tls.Conn. It holds no reference
// to another mio.Layer: the *tls.Conn reads and writes the wrapped
// net.Conn directly. crypto/tls is the standard library's
// own TLS implementation, and nothing in the retrieval pack supersedes it,
// so this is the one adapter deliberately built on the standard library as
// a matter of course rather than a gap (see DESIGN.md).
type TLS struct {
	conn    *tls.Conn
	state   mio.ObjectState
	lastMsg string
}

// NewTLSClient wraps conn (already connected) in a TLS client handshake
// using cfg (nil uses an empty *tls.Config, i.e. the system root pool).
// The object stays in CONNECTING until the handshake completes.
func NewTLSClient(conn net.Conn, cfg *tls.Config) *TLS {
	return &TLS{conn: tls.Client(conn, cfg), state: mio.StateConnecting}
}

// NewTLSServer wraps conn in a TLS server handshake using cfg, which must
// carry at least one certificate. The object stays in CONNECTING until the
// handshake completes.
func NewTLSServer(conn net.Conn, cfg *tls.Config) *TLS {
	return &TLS{conn: tls.Server(conn, cfg), state: mio.StateConnecting}
}

func (t *TLS) LayerName() string { return "tls" }

// Start kicks off the handshake in the background rather than blocking the
// loop thread; a failed handshake surfaces as EventError the same way a
// failed plaintext connect does.
func (t *TLS) Start(obj *mio.Object) {
	go func() {
		// state/lastMsg are set from ProcessEvent, on the loop's own
		// goroutine once DeliverOSEvent marshals this event onto it — not
		// here, since this runs on the handshake goroutine.
		if err := t.conn.Handshake(); err != nil {
			obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventError, Err: mio.IOErrorFromSyscall(err), Notice: err.Error()})
			return
		}
		obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventConnected})
	}()
}

func (t *TLS) ProcessEvent(ctx *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	switch ev.Kind {
	case mio.EventDisconnect:
		t.state = mio.StateDisconnected
	case mio.EventError:
		t.state = mio.StateError
		t.lastMsg = ev.Notice
	case mio.EventConnected:
		if t.state != mio.StateError {
			t.state = mio.StateConnected
		}
	}
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

// Read and Write are blocking calls on *tls.Conn (crypto/tls has no
// non-blocking mode): Read waits until the wrapped net.Conn yields a
// record, and Write waits until the net.Conn accepts the data. Neither
// returns mio.WouldBlock for lack of data, and TLS delivers no EventRead of
// its own after the handshake.
func (t *TLS) Read(buf []byte) (int, mio.IOError) {
	n, err := t.conn.Read(buf)
	if err != nil {
		ioErr := mio.IOErrorFromSyscall(err)
		t.lastMsg = err.Error()
		return n, ioErr
	}
	return n, mio.Success
}

func (t *TLS) Write(buf []byte) (int, mio.IOError) {
	n, err := t.conn.Write(buf)
	if err != nil {
		ioErr := mio.IOErrorFromSyscall(err)
		t.lastMsg = err.Error()
		return n, ioErr
	}
	return n, mio.Success
}

func (t *TLS) Disconnect() mio.IOError {
	if err := t.conn.Close(); err != nil {
		return mio.IOErrorFromSyscall(err)
	}
	t.state = mio.StateDisconnected
	return mio.Success
}

func (t *TLS) Destroy() { _ = t.conn.Close() }

func (t *TLS) ErrorString() string { return t.lastMsg }

func (t *TLS) LayerState() mio.ObjectState { return t.state }

func (t *TLS) Introspect() (name, version string) { return "tls", "1.0" }
