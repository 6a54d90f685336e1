package adapters

import (
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	mio "github.com/Monetra/go-mio"
)

// Process supervises a child command and vends four cooperating Layers —
// a stdin writer, independent stdout/stderr readers, and a control leaf —
// rather than flattening a process into one merged byte stream: each
// stream keeps its own identity (a caller distinguishing stdout from
// stderr shouldn't have to prefix-tag every chunk itself), and exit status
// is something the stdin/stdout/stderr layers have no natural way to
// surface on their own. Stdout/Stderr's pump goroutines are supervised by
// an errgroup (the same pattern pool.go uses for its inner loops); Control
// joins that group before calling cmd.Wait, exactly mirroring the
// os/exec contract that Wait must not run until all pipe reads have
// completed.
type Process struct {
	cmd *exec.Cmd

	Stdin   *ProcessStdin
	Stdout  *ProcessStream
	Stderr  *ProcessStream
	Control *ProcessControl
}

// StartProcess launches cmd (already configured with Args/Dir/Env by the
// caller) and returns its four cooperating Layers, each still needing its
// own mio.NewObject/Loop.Add to begin pumping.
func StartProcess(cmd *exec.Cmd) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	group := &errgroup.Group{}
	p := &Process{cmd: cmd}
	p.Stdin = &ProcessStdin{w: stdin, state: mio.StateConnected}
	p.Stdout = &ProcessStream{name: "process-stdout", r: stdout, group: group, state: mio.StateConnected}
	p.Stderr = &ProcessStream{name: "process-stderr", r: stderr, group: group, state: mio.StateConnected}
	p.Control = &ProcessControl{cmd: cmd, group: group, state: mio.StateConnected}
	return p, nil
}

// Kill terminates the child process immediately, independent of whether
// Control's object has been registered with a loop.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// ProcessStdin is a writer-only leaf Layer over the child's stdin pipe.
type ProcessStdin struct {
	w io.WriteCloser

	state    mio.ObjectState
	errMsg   string
	stopOnce sync.Once
}

func (s *ProcessStdin) LayerName() string { return "process-stdin" }

func (s *ProcessStdin) ProcessEvent(_ *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

// Write sends to the child's stdin.
func (s *ProcessStdin) Write(buf []byte) (int, mio.IOError) {
	n, err := s.w.Write(buf)
	if err != nil {
		s.errMsg = err.Error()
		return n, mio.IOErrorFromSyscall(err)
	}
	return n, mio.Success
}

// Disconnect closes stdin, signaling EOF to the child without killing it.
func (s *ProcessStdin) Disconnect() mio.IOError {
	var outErr mio.IOError
	s.stopOnce.Do(func() {
		if err := s.w.Close(); err != nil {
			outErr = mio.IOErrorFromSyscall(err)
			return
		}
		s.state = mio.StateDisconnected
		outErr = mio.Success
	})
	return outErr
}

func (s *ProcessStdin) Destroy() { s.stopOnce.Do(func() { _ = s.w.Close() }) }

func (s *ProcessStdin) ErrorString() string { return s.errMsg }

func (s *ProcessStdin) LayerState() mio.ObjectState { return s.state }

func (s *ProcessStdin) Introspect() (name, version string) { return "process-stdin", "1.0" }

// ProcessStream is a reader-only leaf Layer over one of the child's output
// pipes (stdout or stderr), pumped independently so the two streams never
// interleave into a single buffer.
type ProcessStream struct {
	name  string
	r     io.ReadCloser
	group *errgroup.Group

	obj    *mio.Object
	state  mio.ObjectState
	errMsg string

	readMu  sync.Mutex
	readBuf []byte
}

func (s *ProcessStream) LayerName() string { return s.name }

// Start registers this stream's pump with the shared errgroup so Control
// can join it before calling cmd.Wait.
func (s *ProcessStream) Start(obj *mio.Object) {
	s.obj = obj
	s.group.Go(s.pump)
}

func (s *ProcessStream) pump() error {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.r.Read(buf)
		if n > 0 {
			s.readMu.Lock()
			s.readBuf = append(s.readBuf, buf[:n]...)
			s.readMu.Unlock()
			s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventRead})
		}
		if err != nil {
			if err == io.EOF {
				s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventDisconnect, Err: mio.Disconnect})
				return nil
			}
			ioErr := mio.IOErrorFromSyscall(err)
			s.obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventError, Err: ioErr, Notice: err.Error()})
			return err
		}
	}
}

// ProcessEvent mutates state/errMsg here, on the loop's own goroutine
// (DeliverOSEvent marshals onto it before this runs), not in pump itself.
func (s *ProcessStream) ProcessEvent(_ *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	switch ev.Kind {
	case mio.EventDisconnect:
		s.state = mio.StateDisconnected
	case mio.EventError:
		s.state = mio.StateError
		s.errMsg = ev.Notice
	}
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

// Read drains bytes already buffered by the pump.
func (s *ProcessStream) Read(buf []byte) (int, mio.IOError) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if len(s.readBuf) == 0 {
		return 0, mio.WouldBlock
	}
	n := copy(buf, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, mio.Success
}

func (s *ProcessStream) Destroy() { _ = s.r.Close() }

func (s *ProcessStream) ErrorString() string { return s.errMsg }

func (s *ProcessStream) LayerState() mio.ObjectState { return s.state }

func (s *ProcessStream) Introspect() (name, version string) { return s.name, "1.0" }

// ProcessControl is a control-only leaf Layer (no Read/Write) that joins
// the stdout/stderr pump group, waits for the child to exit, and reports
// the outcome as a single EventOther carrying the exit code as its
// Notice — spec.md §4.5's "control object signaling process exit with
// return code" — rather than the ad hoc EventError/EventDisconnect a
// merged stream had to overload for the same purpose.
type ProcessControl struct {
	cmd   *exec.Cmd
	group *errgroup.Group

	state    mio.ObjectState
	exitCode int
	errMsg   string
}

func (c *ProcessControl) LayerName() string { return "process-control" }

// Start waits for both stream pumps to finish (the os/exec contract: Wait
// must not run until every pipe read has completed), then calls cmd.Wait
// and reports the result.
func (c *ProcessControl) Start(obj *mio.Object) {
	go func() {
		pumpErr := c.group.Wait()
		waitErr := c.cmd.Wait()

		code := 0
		if waitErr != nil {
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		notice := strconv.Itoa(code)
		if pumpErr != nil {
			notice += ": stream error: " + pumpErr.Error()
		}
		obj.DeliverOSEvent(mio.ObjectEvent{Kind: mio.EventOther, Notice: notice})
	}()
}

// ProcessEvent parses the exit-code notice and updates state here, on the
// loop's own goroutine.
func (c *ProcessControl) ProcessEvent(_ *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	if ev.Kind == mio.EventOther {
		notice := ev.Notice
		if idx := strings.IndexByte(notice, ':'); idx >= 0 {
			notice = notice[:idx]
			c.errMsg = ev.Notice
		}
		if code, err := strconv.Atoi(notice); err == nil {
			c.exitCode = code
		}
		if c.exitCode == 0 && c.errMsg == "" {
			c.state = mio.StateDisconnected
		} else {
			c.state = mio.StateError
		}
	}
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

// ExitCode returns the child's exit code once Control's object has
// delivered the EventOther notice; 0 before then.
func (c *ProcessControl) ExitCode() int { return c.exitCode }

// Destroy kills the child process outright.
func (c *ProcessControl) Destroy() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
}

func (c *ProcessControl) ErrorString() string { return c.errMsg }

func (c *ProcessControl) LayerState() mio.ObjectState { return c.state }

func (c *ProcessControl) Introspect() (name, version string) { return "process-control", "1.0" }
