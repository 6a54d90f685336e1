package mio

import "testing"

// recordingLayer is a test Layer that records every event it sees and
// applies a configurable verdict.
type recordingLayer struct {
	name    string
	verdict func(ev ObjectEvent) Verdict
	seen    []ObjectEvent
	state   ObjectState
}

func (l *recordingLayer) LayerName() string { return l.name }

func (l *recordingLayer) ProcessEvent(ctx *LayerContext, ev ObjectEvent) Verdict {
	l.seen = append(l.seen, ev)
	if l.verdict != nil {
		return l.verdict(ev)
	}
	return passVerdict()
}

func (l *recordingLayer) LayerState() ObjectState { return l.state }

func TestObjectDeliverFromPassPropagatesToCallback(t *testing.T) {
	bottom := &recordingLayer{name: "bottom"}
	top := &recordingLayer{name: "top"}
	obj := NewObject(bottom, top)

	var got ObjectEvent
	delivered := false
	obj.OnEvent(func(ev ObjectEvent) {
		got = ev
		delivered = true
	})

	obj.DeliverOSEvent(ObjectEvent{Kind: EventRead, Data: []byte("hi")})

	if !delivered {
		t.Fatal("callback was never invoked")
	}
	if got.Kind != EventRead || string(got.Data) != "hi" {
		t.Errorf("callback got %+v, want Kind=EventRead Data=hi", got)
	}
	if len(bottom.seen) != 1 || len(top.seen) != 1 {
		t.Errorf("expected both layers to observe the event, got bottom=%d top=%d", len(bottom.seen), len(top.seen))
	}
}

func TestObjectDeliverFromConsumeStopsPropagation(t *testing.T) {
	bottom := &recordingLayer{name: "bottom", verdict: func(ObjectEvent) Verdict { return consumeVerdict() }}
	top := &recordingLayer{name: "top"}
	obj := NewObject(bottom, top)

	delivered := false
	obj.OnEvent(func(ObjectEvent) { delivered = true })

	obj.DeliverOSEvent(ObjectEvent{Kind: EventRead})

	if delivered {
		t.Error("callback should not have been invoked: bottom layer consumed the event")
	}
	if len(top.seen) != 0 {
		t.Error("top layer should never have seen the consumed event")
	}
}

func TestObjectDeliverFromRewriteChangesPayload(t *testing.T) {
	bottom := &recordingLayer{name: "bottom", verdict: func(ev ObjectEvent) Verdict {
		return rewriteVerdict(ObjectEvent{Kind: EventRead, Data: []byte("rewritten")})
	}}
	top := &recordingLayer{name: "top"}
	obj := NewObject(bottom, top)

	var got ObjectEvent
	obj.OnEvent(func(ev ObjectEvent) { got = ev })

	obj.DeliverOSEvent(ObjectEvent{Kind: EventRead, Data: []byte("original")})

	if string(got.Data) != "rewritten" {
		t.Errorf("got Data=%q, want %q", got.Data, "rewritten")
	}
	if len(top.seen) != 1 || string(top.seen[0].Data) != "rewritten" {
		t.Error("top layer should have observed the rewritten event, not the original")
	}
}

func TestObjectPostSoftEventUpwardRedeliversFromNeighbor(t *testing.T) {
	bottom := &recordingLayer{name: "bottom"}
	middle := &recordingLayer{name: "middle"}
	top := &recordingLayer{name: "top"}
	obj := NewObject(bottom, middle, top)

	middle.verdict = func(ev ObjectEvent) Verdict {
		if ev.Kind == EventRead {
			obj.ctxs[1].PostSoftEvent(Upward, ObjectEvent{Kind: EventOther, Notice: "soft"})
			return consumeVerdict()
		}
		return passVerdict()
	}

	var delivered []ObjectEvent
	obj.OnEvent(func(ev ObjectEvent) { delivered = append(delivered, ev) })

	obj.DeliverOSEvent(ObjectEvent{Kind: EventRead})
	if len(delivered) != 0 {
		t.Fatalf("EventRead should have been consumed by middle, got %d callback(s)", len(delivered))
	}

	if !obj.HasPendingSoft() {
		t.Fatal("expected a pending soft event after PostSoftEvent")
	}
	n := obj.DrainSoft(10)
	if n != 1 {
		t.Fatalf("DrainSoft() processed %d events, want 1", n)
	}
	if len(delivered) != 1 || delivered[0].Kind != EventOther {
		t.Fatalf("expected the soft event to reach the callback, got %+v", delivered)
	}
	// The soft event should resume above middle (its origin), so middle
	// must not see it a second time.
	for _, ev := range middle.seen {
		if ev.Kind == EventOther {
			t.Error("middle layer should not have observed its own upward soft event")
		}
	}
}

func TestObjectGetStateAggregatesLowestRank(t *testing.T) {
	bottom := &recordingLayer{name: "bottom", state: StateConnected}
	top := &recordingLayer{name: "top", state: StateConnecting}
	obj := NewObject(bottom, top)

	if got := obj.GetState(); got != StateConnecting {
		t.Errorf("GetState() = %v, want StateConnecting (lowest rank wins)", got)
	}
}

// rwLayer is a test Layer that also implements Reader/Writer, serving
// fixed canned data, to exercise Object.Read/Write's top()-only delegation.
type rwLayer struct {
	recordingLayer
	readData []byte
	written  []byte
}

func (l *rwLayer) Read(buf []byte) (int, IOError) {
	if len(l.readData) == 0 {
		return 0, WouldBlock
	}
	n := copy(buf, l.readData)
	l.readData = l.readData[n:]
	return n, Success
}

func (l *rwLayer) Write(buf []byte) (int, IOError) {
	l.written = append(l.written, buf...)
	return len(buf), Success
}

func TestObjectReadWriteOnlyTouchTopLayer(t *testing.T) {
	bottom := &rwLayer{recordingLayer: recordingLayer{name: "bottom"}, readData: []byte("should not surface")}
	top := &rwLayer{recordingLayer: recordingLayer{name: "top"}, readData: []byte("top data")}
	obj := NewObject(bottom, top)

	buf := make([]byte, 32)
	n, err := obj.Read(buf)
	if err != Success {
		t.Fatalf("Read() err = %v, want Success", err)
	}
	if string(buf[:n]) != "top data" {
		t.Errorf("Read() = %q, want %q (from top layer only)", buf[:n], "top data")
	}

	if _, err := obj.Write([]byte("payload")); err != Success {
		t.Fatalf("Write() err = %v, want Success", err)
	}
	if string(top.written) != "payload" {
		t.Errorf("top.written = %q, want %q", top.written, "payload")
	}
	if len(bottom.written) != 0 {
		t.Error("bottom layer should never have received the write: only top is touched")
	}
}

func TestObjectDisconnectWalksTopDown(t *testing.T) {
	var order []string
	obj := NewObject(
		&disconnectLayer{name: "bottom", order: &order},
		&disconnectLayer{name: "top", order: &order},
	)

	var gotDisconnect bool
	obj.OnEvent(func(ev ObjectEvent) {
		if ev.Kind == EventDisconnect {
			gotDisconnect = true
		}
	})

	obj.Disconnect()

	if !gotDisconnect {
		t.Error("expected a DISCONNECT event to be delivered")
	}
	if len(order) != 2 || order[0] != "top" || order[1] != "bottom" {
		t.Errorf("Disconnect order = %v, want [top bottom]", order)
	}
}

type disconnectLayer struct {
	recordingLayer
	order *[]string
}

func (l *disconnectLayer) Disconnect() IOError {
	*l.order = append(*l.order, l.name)
	return Success
}

func TestObjectReconnectRequiresAllLayers(t *testing.T) {
	obj := NewObject(&recordingLayer{name: "plain"})
	if err := obj.Reconnect(); err != NotImplemented {
		t.Errorf("Reconnect() on a stack with no Reconnecter = %v, want NotImplemented", err)
	}
}
