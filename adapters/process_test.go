package adapters

import (
	"context"
	"os/exec"
	"testing"
	"time"

	mio "github.com/Monetra/go-mio"
)

func TestProcessStdinStdoutRoundTrip(t *testing.T) {
	cmd := exec.Command("cat")
	proc, err := StartProcess(cmd)
	if err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	stdinObj := mio.NewObject(proc.Stdin)
	stdoutObj := mio.NewObject(proc.Stdout)
	controlObj := mio.NewObject(proc.Control)

	received := make(chan []byte, 1)
	stdoutObj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind != mio.EventRead {
			return
		}
		buf := make([]byte, 64)
		n, _ := stdoutObj.Read(buf)
		if n > 0 {
			select {
			case received <- append([]byte(nil), buf[:n]...):
			default:
			}
		}
	})

	if err := loop.Add(stdinObj); err != nil {
		t.Fatalf("Add(stdin) failed: %v", err)
	}
	if err := loop.Add(stdoutObj); err != nil {
		t.Fatalf("Add(stdout) failed: %v", err)
	}
	if err := loop.Add(controlObj); err != nil {
		t.Fatalf("Add(control) failed: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		if _, ioErr := stdinObj.Write([]byte("echo me\n")); ioErr != mio.Success {
			t.Errorf("Write() err = %v", ioErr)
		}
	}()
	go func() {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
		}
		stdinObj.Disconnect()
		loop.Done()
	}()

	if _, err := loop.Run(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "echo me\n" {
			t.Errorf("received = %q, want %q", got, "echo me\n")
		}
	default:
		t.Fatal("never received the child's echoed output")
	}
}

func TestProcessControlReportsExitCode(t *testing.T) {
	cmd := exec.Command("sh", "-c", "exit 7")
	proc, err := StartProcess(cmd)
	if err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	stdoutObj := mio.NewObject(proc.Stdout)
	stderrObj := mio.NewObject(proc.Stderr)
	controlObj := mio.NewObject(proc.Control)

	exited := make(chan mio.ObjectEvent, 1)
	controlObj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind == mio.EventOther {
			select {
			case exited <- ev:
			default:
			}
		}
	})

	if err := loop.Add(stdoutObj); err != nil {
		t.Fatalf("Add(stdout) failed: %v", err)
	}
	if err := loop.Add(stderrObj); err != nil {
		t.Fatalf("Add(stderr) failed: %v", err)
	}
	if err := loop.Add(controlObj); err != nil {
		t.Fatalf("Add(control) failed: %v", err)
	}

	go func() {
		select {
		case <-exited:
		case <-time.After(2 * time.Second):
		}
		loop.Done()
	}()

	if _, err := loop.Run(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	select {
	case ev := <-exited:
		if ev.Notice != "7" {
			t.Errorf("Notice = %q, want %q", ev.Notice, "7")
		}
		if proc.Control.ExitCode() != 7 {
			t.Errorf("ExitCode() = %d, want 7", proc.Control.ExitCode())
		}
		if proc.Control.LayerState() != mio.StateError {
			t.Errorf("LayerState() = %v, want StateError for a nonzero exit", proc.Control.LayerState())
		}
	default:
		t.Fatal("control object never reported exit via EventOther")
	}
}

func TestProcessDestroyKillsChild(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	proc, err := StartProcess(cmd)
	if err != nil {
		t.Fatalf("StartProcess() failed: %v", err)
	}

	loop, err := mio.NewLoop()
	if err != nil {
		t.Fatalf("NewLoop() failed: %v", err)
	}
	defer loop.Close()

	stdoutObj := mio.NewObject(proc.Stdout)
	controlObj := mio.NewObject(proc.Control)

	exited := make(chan mio.ObjectEvent, 1)
	controlObj.OnEvent(func(ev mio.ObjectEvent) {
		if ev.Kind == mio.EventOther {
			select {
			case exited <- ev:
			default:
			}
		}
	})

	if err := loop.Add(stdoutObj); err != nil {
		t.Fatalf("Add(stdout) failed: %v", err)
	}
	if err := loop.Add(controlObj); err != nil {
		t.Fatalf("Add(control) failed: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		proc.Control.Destroy()
	}()
	go func() {
		select {
		case <-exited:
		case <-time.After(2 * time.Second):
		}
		loop.Done()
	}()

	if _, err := loop.Run(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	select {
	case ev := <-exited:
		if ev.Notice == "0" {
			t.Error("killed child reported a clean exit code")
		}
	default:
		t.Fatal("killed child never reported exit via Control's wait goroutine")
	}
}
