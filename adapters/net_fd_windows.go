//go:build windows

package adapters

import (
	"net"

	mio "github.com/Monetra/go-mio"
)

// rawFD has no portable equivalent on Windows without IOCP-specific
// plumbing (ConnectEx/AcceptEx-style overlapped I/O), so TCPClient always
// falls back to the goroutine-pump path on this platform.
func rawFD(conn net.Conn) (fd int, ok bool) { return -1, false }

// readRawFD/writeRawFD/closeRawFD are unreachable on Windows since rawFD
// always reports ok=false there, but must exist for net_client.go to build.
func readRawFD(fd int, buf []byte) (int, mio.IOError) { return 0, mio.NotImplemented }

func writeRawFD(fd int, buf []byte) (int, mio.IOError) { return 0, mio.NotImplemented }

func closeRawFD(fd int) {}
