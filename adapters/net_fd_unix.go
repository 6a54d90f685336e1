//go:build linux || darwin

package adapters

import (
	"net"
	"syscall"

	mio "github.com/Monetra/go-mio"
)

// rawFD extracts and dup()s the underlying file descriptor of conn, if
// conn exposes one via syscall.Conn (TCPConn, UnixConn), and arms it
// non-blocking so the loop's epoll/kqueue poller — not the Go runtime's
// own netpoller — owns readiness for it. Returns ok=false for transports
// with no raw descriptor (e.g. net.Pipe).
func rawFD(conn net.Conn) (fd int, ok bool) {
	sc, isSyscallConn := conn.(syscall.Conn)
	if !isSyscallConn {
		return -1, false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, false
	}
	var dupFd int
	var dupErr error
	err = raw.Control(func(fd uintptr) {
		dupFd, dupErr = syscall.Dup(int(fd))
	})
	if err != nil || dupErr != nil {
		return -1, false
	}
	if err := syscall.SetNonblock(dupFd, true); err != nil {
		syscall.Close(dupFd)
		return -1, false
	}
	return dupFd, true
}

// readRawFD and writeRawFD operate directly on the non-blocking descriptor
// rawFD armed, mapping EAGAIN to mio.WouldBlock rather than treating it as
// an error.
func readRawFD(fd int, buf []byte) (int, mio.IOError) {
	n, err := syscall.Read(fd, buf)
	if err != nil {
		return 0, mio.IOErrorFromSyscall(err)
	}
	if n == 0 {
		return 0, mio.Disconnect
	}
	return n, mio.Success
}

func writeRawFD(fd int, buf []byte) (int, mio.IOError) {
	n, err := syscall.Write(fd, buf)
	if err != nil {
		return n, mio.IOErrorFromSyscall(err)
	}
	return n, mio.Success
}

func closeRawFD(fd int) { _ = syscall.Close(fd) }
