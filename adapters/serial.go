package adapters

import (
	"io"
	"sync"

	mio "github.com/Monetra/go-mio"
)

// Serial wraps an already-opened serial port handle (or any other
// io.ReadWriteCloser device with no concept of OS-poller readiness, such as
// a named pipe or character device) as a leaf Layer driven by a background
// read pump, the same fallback path TCPClient takes for transports with no
// raw descriptor mio.LeafFD can arm. No third-party serial library appears
// in the retrieval pack, so this adapter is deliberately stdlib-only (see
// DESIGN.md); it assumes the caller has already configured baud rate,
// parity, and the rest of the line discipline via whatever opened the
// handle.
type Serial struct {
	dev io.ReadWriteCloser

	obj    *mio.Object
	state  mio.ObjectState
	errMsg string

	readMu  sync.Mutex
	readBuf []byte

	closeOnce sync.Once
}

// NewSerial wraps an already-open device handle.
func NewSerial(dev io.ReadWriteCloser) *Serial {
	return &Serial{dev: dev, state: mio.StateConnected}
}

func (s *Serial) LayerName() string { return "serial" }

func (s *Serial) Start(obj *mio.Object) {
	s.obj = obj
	go s.pump()
}

func (s *Serial) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := s.dev.Read(buf)
		if n > 0 {
			s.readMu.Lock()
			s.readBuf = append(s.readBuf, buf[:n]...)
			s.readMu.Unlock()
			s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventRead})
		}
		if err != nil {
			ioErr := mio.IOErrorFromSyscall(err)
			// state/errMsg are set from ProcessEvent on the loop's own
			// goroutine, once DeliverOSEvent marshals this event onto it,
			// not here — this runs on the pump goroutine.
			if err == io.EOF || ioErr == mio.Disconnect {
				s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventDisconnect, Err: mio.Disconnect, Notice: err.Error()})
			} else {
				s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventError, Err: ioErr, Notice: err.Error()})
			}
			return
		}
	}
}

func (s *Serial) ProcessEvent(ctx *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	switch ev.Kind {
	case mio.EventDisconnect:
		s.state = mio.StateDisconnected
		s.errMsg = ev.Notice
	case mio.EventError:
		s.state = mio.StateError
		s.errMsg = ev.Notice
	}
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

func (s *Serial) Read(buf []byte) (int, mio.IOError) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if len(s.readBuf) == 0 {
		return 0, mio.WouldBlock
	}
	n := copy(buf, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, mio.Success
}

func (s *Serial) Write(buf []byte) (int, mio.IOError) {
	n, err := s.dev.Write(buf)
	if err != nil {
		s.errMsg = err.Error()
		return n, mio.IOErrorFromSyscall(err)
	}
	return n, mio.Success
}

func (s *Serial) Disconnect() mio.IOError {
	var outErr mio.IOError
	s.closeOnce.Do(func() {
		if err := s.dev.Close(); err != nil {
			outErr = mio.IOErrorFromSyscall(err)
			return
		}
		outErr = mio.Success
	})
	s.state = mio.StateDisconnected
	return outErr
}

func (s *Serial) Destroy() { s.closeOnce.Do(func() { _ = s.dev.Close() }) }

func (s *Serial) ErrorString() string { return s.errMsg }

func (s *Serial) LayerState() mio.ObjectState { return s.state }

func (s *Serial) Introspect() (name, version string) { return "serial", "1.0" }
