// Command echo-server demonstrates the core mio pattern end to end: a
// listener leaf accepting connections, each wrapped in an Object whose
// callback echoes back whatever it reads, all driven by a single Loop.
//
// Run with: go run ./cmd/echo-server/ [addr]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mio "github.com/Monetra/go-mio"
	"github.com/Monetra/go-mio/adapters"
)

func main() {
	addr := ":9000"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	logger := mio.NewLoggerFromHandler(slog.Default().Handler())
	loop, err := mio.NewLoop(mio.WithLogger(logger), mio.WithMetrics(true))
	if err != nil {
		fmt.Fprintln(os.Stderr, "new loop:", err)
		os.Exit(1)
	}
	defer loop.Close()

	server, err := adapters.ListenTCP("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen:", err)
		os.Exit(1)
	}

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
				slog.Error("accept failed", "err", ioErr)
				return
			}
			wireEcho(loop, conn)
		}
	})
	if err := loop.Add(serverObj); err != nil {
		fmt.Fprintln(os.Stderr, "add listener:", err)
		os.Exit(1)
	}

	// Periodic metrics log, grounded on the same Timer mechanism a
	// production deployment would use for housekeeping.
	loop.Timers().Schedule(5000, 5000, mio.ModeRelative, func(*mio.Timer) {
		m := loop.Metrics()
		slog.Info("loop metrics", "wake_count", m.WakeCount, "process_time_p50", m.ProcessTime.P50)
	}, nil)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		slog.Info("shutting down")
		loop.DoneWithDisconnect(5*time.Second, 2*time.Second)
	}()

	// Run with its own background context: shutdown goes through
	// DoneWithDisconnect's graceful-then-forced sequence above, not ctx
	// cancellation, so in-flight connections get their grace period.
	result, err := loop.Run(context.Background(), 0)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loop exited:", result, err)
		os.Exit(1)
	}
}

// wireEcho adds a newly accepted connection's object to loop and installs
// an echo callback.
func wireEcho(loop *mio.Loop, obj *mio.Object) {
	obj.OnEvent(func(ev mio.ObjectEvent) {
		switch ev.Kind {
		case mio.EventRead:
			buf := make([]byte, 4096)
			for {
				n, ioErr := obj.Read(buf)
				if n > 0 {
					_, _ = obj.Write(buf[:n])
				}
				if ioErr == mio.WouldBlock || n == 0 {
					return
				}
				if ioErr != mio.Success {
					return
				}
			}
		case mio.EventDisconnect, mio.EventError:
			obj.Destroy()
		}
	})
	if err := loop.Add(obj); err != nil {
		slog.Error("add connection", "err", err)
	}
}
