// Package adapters provides concrete leaf and mid-stack Layer
// implementations for mio.Object: TCP clients and servers, an
// in-process pipe, process I/O, serial/HID devices, bandwidth shaping, and
// TLS — the transports spec.md §4.5 names as the runtime's domain stack.
package adapters

import (
	"context"
	"net"
	"strconv"
	"sync"

	mio "github.com/Monetra/go-mio"
)

// TCPClient is a leaf Layer over a net.Conn: an established connection
// handed to NewTCPClient, or one that DialTCPClient dials. DNS resolution goes through the
// DNSResolver collaborator so callers can swap in a custom resolver.
//
// Where the platform allows it (rawFD succeeds, which today means Linux and
// Darwin on a *net.TCPConn or *net.UnixConn), TCPClient implements
// mio.LeafFD over a dup'd, non-blocking copy of the connection's
// descriptor: the loop's own epoll/kqueue poller owns readiness and
// Read/Write hit the raw fd directly, bypassing the Go runtime's netpoller
// entirely, the same bypass production epoll-based Go servers use to put
// socket readiness under one dispatcher. Where it doesn't (Windows, or a
// net.Conn with no syscall.Conn backing such as net.Pipe), Start launches a
// goroutine that pumps blocking conn.Read calls into an internal buffer and
// wakes the object with mio.Object.DeliverOSEvent — the "no OS handle"
// path mio.LeafFD's doc comment names.
type TCPClient struct {
	conn     net.Conn
	resolver mio.DNSResolver
	lastErr  mio.IOError
	lastMsg  string
	state    mio.ObjectState

	fd       int
	hasRawFD bool

	obj       *mio.Object
	pumpOnce  sync.Once
	closeOnce sync.Once

	readMu  sync.Mutex
	readBuf []byte // bytes pumped off conn, awaiting a Read() call

	stopPump chan struct{}
	pumpDone chan struct{}
}

// NewTCPClient wraps an already-established connection (e.g. accepted by
// a TCPServer, or dialed by the caller).
func NewTCPClient(conn net.Conn) *TCPClient {
	c := &TCPClient{conn: conn, state: mio.StateConnected}
	c.fd, c.hasRawFD = rawFD(conn)
	return c
}

// DialTCPClient resolves host via resolver (nil uses the default resolver)
// and dials it, returning a connected TCPClient.
func DialTCPClient(ctx context.Context, resolver mio.DNSResolver, network, host string, port int) (*TCPClient, error) {
	if resolver == nil {
		resolver = mio.NewDefaultResolver()
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.AddrError{Err: "no addresses found", Addr: host}
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, net.JoinHostPort(addrs[0].IP.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	c := &TCPClient{conn: conn, resolver: resolver, state: mio.StateConnected}
	c.fd, c.hasRawFD = rawFD(conn)
	return c, nil
}

func (c *TCPClient) LayerName() string { return "tcp-client" }

// Fd and PollEvents satisfy mio.LeafFD. Fd reports -1 when this TCPClient
// has no raw descriptor (the Windows or net.Pipe case), which Loop.Add
// treats as "don't register with the poller" — see mio.LeafFD's doc
// comment.
func (c *TCPClient) Fd() int {
	if !c.hasRawFD {
		return -1
	}
	return c.fd
}

func (c *TCPClient) PollEvents() mio.IOEvents {
	return mio.PollRead | mio.PollWrite
}

// Start wires the object into the client, launching the goroutine pump when
// this TCPClient has no raw fd for the loop's poller to arm directly; when
// hasRawFD is true it only records obj. mio.Loop.Add calls it when the
// object is registered.
func (c *TCPClient) Start(obj *mio.Object) {
	c.obj = obj
	if c.hasRawFD {
		return
	}
	c.pumpOnce.Do(func() {
		c.stopPump = make(chan struct{})
		c.pumpDone = make(chan struct{})
		go c.pump()
	})
}

// pump blocks on conn.Read, buffering bytes and waking the object so a
// subsequent Object.Read drains them. It is the transport's only reader;
// callers must not read conn directly.
func (c *TCPClient) pump() {
	defer close(c.pumpDone)
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-c.stopPump:
			return
		default:
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.readMu.Lock()
			c.readBuf = append(c.readBuf, buf[:n]...)
			c.readMu.Unlock()
			c.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventRead})
		}
		if err != nil {
			ioErr := mio.IOErrorFromSyscall(err)
			if ioErr == mio.Disconnect {
				c.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventDisconnect, Err: ioErr})
			} else {
				c.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventError, Err: ioErr})
			}
			return
		}
	}
}

func (c *TCPClient) ProcessEvent(ctx *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	switch ev.Kind {
	case mio.EventDisconnect, mio.EventError:
		c.state = mio.StateDisconnected
		if ev.Kind == mio.EventError {
			c.state = mio.StateError
			c.lastErr = ev.Err
		}
	case mio.EventConnected:
		c.state = mio.StateConnected
	}
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

// Read satisfies mio.Reader. On the raw-fd path it reads the non-blocking
// descriptor directly; on the pump path it drains bytes the background
// goroutine has already buffered, returning WouldBlock rather than
// blocking the caller when none are available yet.
func (c *TCPClient) Read(buf []byte) (int, mio.IOError) {
	if c.hasRawFD {
		return readRawFD(c.fd, buf)
	}
	c.readMu.Lock()
	defer c.readMu.Unlock()
	if len(c.readBuf) == 0 {
		return 0, mio.WouldBlock
	}
	n := copy(buf, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, mio.Success
}

func (c *TCPClient) Write(buf []byte) (int, mio.IOError) {
	if c.hasRawFD {
		return writeRawFD(c.fd, buf)
	}
	n, err := c.conn.Write(buf)
	if err != nil {
		ioErr := mio.IOErrorFromSyscall(err)
		c.lastErr = ioErr
		c.lastMsg = err.Error()
		return n, ioErr
	}
	return n, mio.Success
}

func (c *TCPClient) Disconnect() mio.IOError {
	var ioErr mio.IOError
	c.closeOnce.Do(func() {
		if !c.hasRawFD && c.stopPump != nil {
			close(c.stopPump)
		}
		if err := c.conn.Close(); err != nil {
			ioErr = mio.IOErrorFromSyscall(err)
			return
		}
		ioErr = mio.Success
	})
	c.state = mio.StateDisconnected
	return ioErr
}

func (c *TCPClient) Destroy() {
	c.closeOnce.Do(func() {
		if !c.hasRawFD && c.stopPump != nil {
			close(c.stopPump)
		}
		_ = c.conn.Close()
	})
	if c.hasRawFD {
		closeRawFD(c.fd)
	}
}

func (c *TCPClient) ErrorString() string { return c.lastMsg }

func (c *TCPClient) LayerState() mio.ObjectState { return c.state }

// Introspect satisfies spec.md §4.5's common adapter introspection method.
func (c *TCPClient) Introspect() (name, version string) { return "tcp-client", "1.0" }
