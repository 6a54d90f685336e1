package mio

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestAsyncWriterEnqueueAndWrite(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got [][]byte

	w := NewAsyncWriter(1024, func(msg []byte, _ WriterCommand, _ any) bool {
		mu.Lock()
		got = append(got, append([]byte(nil), msg...))
		mu.Unlock()
		return true
	}, nil, nil, nil)
	w.Start()
	defer w.DestroyBlocking(true, time.Second)

	w.Enqueue([]byte("hello"))
	w.Enqueue([]byte("world"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if !bytes.Equal(got[0], []byte("hello")) || !bytes.Equal(got[1], []byte("world")) {
		t.Errorf("got %q, want [hello world]", got)
	}
}

func TestAsyncWriterDropOldestOnOverflow(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	w := NewAsyncWriter(10, func(msg []byte, _ WriterCommand, _ any) bool {
		once.Do(func() {
			close(block)
			<-release
		})
		return true
	}, nil, nil, nil)
	w.Start()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
		w.DestroyBlocking(false, time.Second)
	}()

	w.Enqueue([]byte("kick")) // triggers the worker into writeFn, where it blocks

	// Wait until the worker has dequeued the kick message and is blocked
	// inside writeFn, so subsequent Enqueue calls build up in the queue.
	<-block

	w.Enqueue([]byte("0123456789")) // exactly capacity, queued while worker blocked
	if ok := w.Enqueue([]byte("abcdefghij")); !ok {
		t.Fatal("expected second same-size message to be accepted via drop-oldest")
	}

	close(release)
}

func TestAsyncWriterEnqueueRejectsOversized(t *testing.T) {
	t.Parallel()

	w := NewAsyncWriter(4, func([]byte, WriterCommand, any) bool { return true }, nil, nil, nil)
	w.Start()
	defer w.DestroyBlocking(true, time.Second)

	if ok := w.Enqueue([]byte("too long")); ok {
		t.Error("Enqueue() of an over-capacity message should be rejected")
	}
}

func TestAsyncWriterSetCommandBlockingObservedByWorker(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var cmds []WriterCommand

	w := NewAsyncWriter(64, func(msg []byte, cmd WriterCommand, _ any) bool {
		if cmd != 0 {
			mu.Lock()
			cmds = append(cmds, cmd)
			mu.Unlock()
		}
		return true
	}, nil, nil, nil)
	w.Start()
	defer w.DestroyBlocking(true, time.Second)

	w.Enqueue([]byte("x"))
	w.SetCommandBlocking(CmdSuspend)
	w.SetCommand(CmdResume)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(cmds)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(cmds) == 0 {
		t.Fatal("worker never observed CmdSuspend")
	}
}

func TestAsyncWriterStopFuncAndDestroyFuncCalledOnce(t *testing.T) {
	t.Parallel()

	var stopCalls, destroyCalls int
	var mu sync.Mutex

	w := NewAsyncWriter(64, func([]byte, WriterCommand, any) bool { return true }, nil,
		func(any) {
			mu.Lock()
			stopCalls++
			mu.Unlock()
		},
		func(any) {
			mu.Lock()
			destroyCalls++
			mu.Unlock()
		},
	)
	w.Start()
	w.DestroyBlocking(true, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if destroyCalls != 1 {
		t.Errorf("destroyFn called %d times, want 1", destroyCalls)
	}
	if stopCalls != 1 {
		t.Errorf("stopFn called %d times, want 1", stopCalls)
	}
}

func TestAsyncWriterEnqueueAfterDestroyRejected(t *testing.T) {
	t.Parallel()

	w := NewAsyncWriter(64, func([]byte, WriterCommand, any) bool { return true }, nil, nil, nil)
	w.Start()
	w.DestroyBlocking(true, time.Second)

	if ok := w.Enqueue([]byte("late")); ok {
		t.Error("Enqueue() after Destroy() should be rejected")
	}
}

func TestFormatDroppedNotice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    int
		le   LineEnding
		want string
	}{
		{"lf", 3, LineLF, "dropped 3 messages\n"},
		{"crlf", 1, LineCRLF, "dropped 1 messages\r\n"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := string(formatDroppedNotice(tc.n, tc.le))
			if got != tc.want {
				t.Errorf("formatDroppedNotice(%d, %v) = %q, want %q", tc.n, tc.le, got, tc.want)
			}
		})
	}
}
