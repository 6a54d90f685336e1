// Package mio implements an event-driven I/O runtime: a cooperative event
// loop (optionally pooled across OS threads), a layered I/O object with
// bidirectional soft-event propagation, an async writer used by logging
// sinks and other producer/consumer pipelines, and a set of I/O adapters
// (net, process, pipe, serial/HID, bandwidth shaping, TLS) built on that
// core.
//
// # Architecture
//
// A [Loop] demultiplexes OS readiness (epoll on Linux, kqueue on Darwin,
// IOCP on Windows) and fires a priority queue of [Timer]s. Every
// OS-readiness event is delivered to the registered [Object] it belongs
// to, which owns an ordered stack of [Layer]s — index 0 is the leaf,
// owning the underlying OS handle; the last layer is the top, which is
// what callers Read from and Write to. An event is injected at the leaf
// and walked upward one layer at a time; each layer's ProcessEvent can
// consume it, pass it on unchanged, rewrite it, or inject a soft event to
// be redelivered — up toward the user or down toward the OS-facing leaf
// — on a later iteration. Layer private state belongs to its Object, and
// thus to its Loop; no layer reaches into another object's state.
//
// # Platform support
//
// I/O polling is implemented using platform-native mechanisms:
//   - Linux: epoll
//   - macOS/BSD: kqueue
//   - Windows: IOCP (I/O Completion Ports)
//
// [Loop.RegisterFD], [Loop.UnregisterFD], and [Loop.ModifyFD] register
// descriptors that no Object's [LeafFD] layer manages; adapters reach the
// poller through [LeafFD] and [Loop.Add] instead.
//
// # Thread safety
//
// A Loop's object set, timer queue, and soft-event queue are mutated only
// on the loop's own goroutine, except through explicit "post to loop"
// primitives ([Loop.Submit], [Object.Destroy] called off-thread) that take
// an internal lock briefly. [AsyncWriter]'s queue is guarded by one mutex
// and condition variable. Statistics counters are written only by their
// owning goroutine and read without locking, on the assumption that a
// torn read of a monotonically-moving counter is an acceptable cost for
// lock-free observability.
//
// # Usage
//
//	loop, err := mio.NewLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer loop.Close()
//
//	obj := mio.NewObject(adapters.NewTCPClient(...))
//	obj.OnEvent(func(ev mio.ObjectEvent) {
//	    if ev.Kind == mio.EventRead {
//	        buf := make([]byte, 4096)
//	        n, _ := obj.Read(buf)
//	        fmt.Println(string(buf[:n]))
//	    }
//	})
//	if err := loop.Add(obj); err != nil {
//	    log.Fatal(err)
//	}
//
//	if _, err := loop.Run(context.Background(), 0); err != nil {
//	    log.Fatal(err)
//	}
package mio
