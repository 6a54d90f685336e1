package adapters

import "net"

// NewPipePair returns two mio.Object-ready *TCPClient leaves connected by
// an in-process net.Pipe — the canonical no-raw-fd transport: net.Pipe's
// Conn is a pure in-memory synchronous channel with nothing for
// syscall.Conn to report, so both ends always take TCPClient's
// goroutine-pump path. Useful for tests and for wiring two local
// subsystems together through the same Layer stack production transports
// use, without a real socket.
func NewPipePair() (a, b *TCPClient) {
	ca, cb := net.Pipe()
	return NewTCPClient(ca), NewTCPClient(cb)
}
