package adapters

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	mio "github.com/Monetra/go-mio"
)

// TestTCPClientPipePairRoundTrip exercises the goroutine-pump fallback path
// (net.Pipe has no raw fd for rawFD to extract) end to end through a real
// Loop: one side writes, the other's object callback observes the bytes.
func TestTCPClientPipePairRoundTrip(t *testing.T) {
	a, b := NewPipePair()
	if a.Fd() != -1 || b.Fd() != -1 {
		t.Fatalf("NewPipePair() ends should report Fd()==-1 (no raw descriptor), got a=%d b=%d", a.Fd(), b.Fd())
	}

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	received := make(chan []byte, 1)
	objB := mio.NewObject(b)
	objB.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind != mio.EventRead {
			return
		}
		buf := make([]byte, 64)
		n, ioErr := objB.Read(buf)
		if n > 0 {
			select {
			case received <- append([]byte(nil), buf[:n]...):
			default:
			}
		}
		_ = ioErr
	})
	if err := loop.Add(objB); err != nil {
		t.Fatalf("Add(objB) failed: %v", err)
	}

	objA := mio.NewObject(a)
	if err := loop.Add(objA); err != nil {
		t.Fatalf("Add(objA) failed: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		if _, ioErr := objA.Write([]byte("ping")); ioErr != mio.Success {
			t.Errorf("objA.Write() err = %v", ioErr)
		}
	}()
	go func() {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
		}
		loop.Done()
	}()

	if _, err := loop.Run(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "ping" {
			t.Errorf("received = %q, want %q", got, "ping")
		}
	default:
		t.Fatal("never received the written bytes")
	}
}

func TestListenTCPAcceptRoundTrip(t *testing.T) {
	server, err := ListenTCP("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP() failed: %v", err)
	}

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	addr := server.ln.Addr().String()

	accepted := make(chan *mio.Object, 1)
	serverObj := mio.NewObject(server)
	serverObj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind != mio.EventAccept {
			return
		}
		for {
			conn, ioErr := serverObj.Accept()
			if ioErr == mio.WouldBlock {
				return
			}
			if ioErr != mio.Success {
				return
			}
			select {
			case accepted <- conn:
			default:
			}
		}
	})
	if err := loop.Add(serverObj); err != nil {
		t.Fatalf("Add(serverObj) failed: %v", err)
	}

	dialDone := make(chan error, 1)
	go func() {
		client, err := DialTCPClient(context.Background(), nil, "tcp", "127.0.0.1", mustPort(t, addr))
		if err != nil {
			dialDone <- err
			return
		}
		defer client.Destroy()
		_, werr := client.Write([]byte("hi"))
		dialDone <- werr2err(werr)
	}()

	go func() {
		select {
		case conn := <-accepted:
			if err := loop.Add(conn); err != nil {
				t.Errorf("Add(accepted conn) failed: %v", err)
			}
		case <-time.After(2 * time.Second):
		}
		time.Sleep(100 * time.Millisecond)
		loop.Done()
	}()

	if _, err := loop.Run(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	if err := <-dialDone; err != nil {
		t.Errorf("dial/write failed: %v", err)
	}
}

func werr2err(ioErr mio.IOError) error {
	if ioErr != mio.Success {
		return ioErr
	}
	return nil
}

func mustPort(t *testing.T, addr string) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q) failed: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi(%q) failed: %v", portStr, err)
	}
	return port
}
