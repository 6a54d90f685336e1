package mio

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoolAddPicksLeastLoaded(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Close()

	var objs []*Object
	for i := 0; i < 4; i++ {
		obj := NewObject(&noopLayer{})
		if err := p.Add(obj); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		objs = append(objs, obj)
	}

	if p.counts[0] != 2 || p.counts[1] != 2 {
		t.Errorf("counts = %v, want [2 2] after 4 adds across 2 loops", p.counts)
	}

	// Every object should have a sticky owner recorded.
	for _, obj := range objs {
		if _, ok := p.owner[obj.ID()]; !ok {
			t.Errorf("object %d has no recorded owner", obj.ID())
		}
	}
}

func TestPoolRemoveRoutesToOriginalLoop(t *testing.T) {
	p, err := NewPool(3)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Close()

	obj := NewObject(&noopLayer{})
	if err := p.Add(obj); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	idx := p.owner[obj.ID()]

	if err := p.Remove(obj); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if p.counts[idx] != 0 {
		t.Errorf("counts[%d] = %d after Remove, want 0", idx, p.counts[idx])
	}
	if _, ok := p.owner[obj.ID()]; ok {
		t.Error("owner entry should be cleared after Remove")
	}
}

func TestPoolRemoveUnregisteredObject(t *testing.T) {
	p, err := NewPool(1)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Close()

	obj := NewObject(&noopLayer{})
	if err := p.Remove(obj); !errors.Is(err, ErrObjectNotOwned) {
		t.Errorf("Remove() on a never-added object = %v, want ErrObjectNotOwned", err)
	}
}

func TestPoolDoneWithDisconnectStopsAllLoops(t *testing.T) {
	p, err := NewPool(2)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Close()

	runDone := make(chan error, 1)
	go func() {
		runDone <- p.Run(context.Background(), 0)
	}()

	time.Sleep(20 * time.Millisecond)
	p.DoneWithDisconnect(100*time.Millisecond, 50*time.Millisecond)

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Pool.Run() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all pooled loops to stop")
	}
}

func TestPoolMetricsReturnsOnePerLoop(t *testing.T) {
	p, err := NewPool(3)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer p.Close()

	if got := len(p.Metrics()); got != 3 {
		t.Errorf("len(Metrics()) = %d, want 3", got)
	}
	if got := p.Size(); got != 3 {
		t.Errorf("Size() = %d, want 3", got)
	}
}
