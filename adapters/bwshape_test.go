package adapters

import (
	"testing"
	"time"

	mio "github.com/Monetra/go-mio"
)

// fakeRW is a minimal mio.Layer implementing Reader/Writer for testing
// BandwidthShaper's delegation without any real transport.
type fakeRW struct {
	readData  []byte
	written   []byte
	readCalls int
}

func (f *fakeRW) LayerName() string { return "fake" }
func (f *fakeRW) ProcessEvent(_ *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	return mio.Verdict{Action: mio.Pass, Event: ev}
}
func (f *fakeRW) Read(buf []byte) (int, mio.IOError) {
	f.readCalls++
	n := copy(buf, f.readData)
	f.readData = f.readData[n:]
	return n, mio.Success
}
func (f *fakeRW) Write(buf []byte) (int, mio.IOError) {
	f.written = append(f.written, buf...)
	return len(buf), mio.Success
}

func TestBandwidthShaperWriteDelegatesWhenAllowed(t *testing.T) {
	inner := &fakeRW{}
	shaper := NewBandwidthShaper(inner, map[time.Duration]int{time.Minute: 100}, 8, "conn")

	n, err := shaper.Write([]byte("hello"))
	if err != mio.Success {
		t.Fatalf("Write() err = %v, want Success", err)
	}
	if n != 5 || string(inner.written) != "hello" {
		t.Errorf("inner.written = %q (n=%d), want %q", inner.written, n, "hello")
	}
}

func TestBandwidthShaperWriteThrottlesAfterLimit(t *testing.T) {
	inner := &fakeRW{}
	// 1 unit allowed per minute, rateUnit=1 byte: the second Write of any
	// size should be refused before it ever reaches inner.
	shaper := NewBandwidthShaper(inner, map[time.Duration]int{time.Minute: 1}, 1, "conn")

	if _, err := shaper.Write([]byte("a")); err != mio.Success {
		t.Fatalf("first Write() err = %v, want Success", err)
	}
	n, err := shaper.Write([]byte("b"))
	if err != mio.WouldBlock {
		t.Fatalf("second Write() err = %v, want WouldBlock", err)
	}
	if n != 0 {
		t.Errorf("second Write() n = %d, want 0", n)
	}
	if string(inner.written) != "a" {
		t.Errorf("inner.written = %q, want %q (throttled write must not reach inner)", inner.written, "a")
	}
}

func TestBandwidthShaperReadDelegatesWhenAllowed(t *testing.T) {
	inner := &fakeRW{readData: []byte("payload")}
	shaper := NewBandwidthShaper(inner, map[time.Duration]int{time.Minute: 100}, 8, "conn")

	buf := make([]byte, 32)
	n, err := shaper.Read(buf)
	if err != mio.Success {
		t.Fatalf("Read() err = %v, want Success", err)
	}
	if string(buf[:n]) != "payload" {
		t.Errorf("Read() = %q, want %q", buf[:n], "payload")
	}
	if inner.readCalls != 1 {
		t.Errorf("inner.readCalls = %d, want 1", inner.readCalls)
	}
}

func TestBandwidthShaperWriteNotImplementedWithoutWriterInner(t *testing.T) {
	inner := &noReadWriteLayer{}
	shaper := NewBandwidthShaper(inner, map[time.Duration]int{time.Minute: 100}, 8, "conn")

	if _, err := shaper.Write([]byte("x")); err != mio.NotImplemented {
		t.Errorf("Write() err = %v, want NotImplemented when inner has no Writer capability", err)
	}
}

type noReadWriteLayer struct{}

func (noReadWriteLayer) LayerName() string { return "bare" }
func (noReadWriteLayer) ProcessEvent(_ *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	return mio.Verdict{Action: mio.Pass, Event: ev}
}
