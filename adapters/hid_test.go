package adapters

import (
	"context"
	"net"
	"testing"
	"time"

	mio "github.com/Monetra/go-mio"
)

func TestHIDReadRequiresFullReport(t *testing.T) {
	devEnd, testEnd := net.Pipe()
	hid := NewHID(devEnd, 8)

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	reports := make(chan []byte, 2)
	obj := mio.NewObject(hid)
	obj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind != mio.EventRead {
			return
		}
		for {
			buf := make([]byte, 8)
			n, ioErr := obj.Read(buf)
			if n > 0 {
				select {
				case reports <- append([]byte(nil), buf[:n]...):
				default:
				}
			}
			if ioErr == mio.WouldBlock {
				return
			}
		}
	})
	if err := loop.Add(obj); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	go func() {
		// Write a partial report, then complete it: HID.Read must not
		// surface anything until the full 8-byte report has arrived.
		_, _ = testEnd.Write([]byte{1, 2, 3})
		time.Sleep(20 * time.Millisecond)
		_, _ = testEnd.Write([]byte{4, 5, 6, 7, 8})
	}()
	go func() {
		select {
		case <-reports:
		case <-time.After(2 * time.Second):
		}
		loop.Done()
	}()

	if _, err := loop.Run(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	select {
	case got := <-reports:
		want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
		if len(got) != len(want) {
			t.Fatalf("report = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("report[%d] = %d, want %d", i, got[i], want[i])
			}
		}
	default:
		t.Fatal("never received a complete report")
	}
}

func TestHIDWriteRejectsWrongSize(t *testing.T) {
	devEnd, _ := net.Pipe()
	hid := NewHID(devEnd, 8)

	if _, err := hid.Write([]byte{1, 2, 3}); err != mio.Invalid {
		t.Errorf("Write() with a short buffer err = %v, want mio.Invalid", err)
	}
}
