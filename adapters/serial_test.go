package adapters

import (
	"context"
	"net"
	"testing"
	"time"

	mio "github.com/Monetra/go-mio"
)

func TestSerialReadWriteRoundTrip(t *testing.T) {
	devEnd, testEnd := net.Pipe()
	dev := NewSerial(devEnd)

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	received := make(chan []byte, 1)
	obj := mio.NewObject(dev)
	obj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind != mio.EventRead {
			return
		}
		buf := make([]byte, 32)
		n, _ := obj.Read(buf)
		if n > 0 {
			select {
			case received <- append([]byte(nil), buf[:n]...):
			default:
			}
		}
	})
	if err := loop.Add(obj); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	go func() {
		_, _ = testEnd.Write([]byte("ATZ\r"))
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
		if string(got) != "ATZ\r" {
			t.Errorf("received = %q, want %q", got, "ATZ\r")
		}
	default:
		t.Fatal("never received bytes written from the peer")
	}
}
