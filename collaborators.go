package mio

import (
	"bytes"
	"context"
	"net"
)

// GrowableBuffer is the external collaborator interface spec.md §6 asks
// for: an append/peek/finish-to-owned-bytes byte accumulator used by
// Object.ReadInto and Object.WriteFrom. bytesBuffer below wraps the stdlib
// bytes.Buffer, which satisfies this contract directly — no third-party
// buffer-pool library in the retrieved corpus addresses this narrow shape
// without pulling in unrelated surface (see DESIGN.md).
type GrowableBuffer interface {
	Append(p []byte)
	Bytes() []byte
	Len() int
	// Advance discards the first n bytes, as if they had been consumed by
	// a successful write.
	Advance(n int)
	Reset()
}

// bytesBuffer adapts *bytes.Buffer (append/peek) plus a read cursor
// (advance/len-from-cursor) to the GrowableBuffer contract.
type bytesBuffer struct {
	buf    bytes.Buffer
	cursor int
}

// NewGrowableBuffer returns the default GrowableBuffer implementation.
func NewGrowableBuffer() GrowableBuffer { return &bytesBuffer{} }

func (b *bytesBuffer) Append(p []byte) { b.buf.Write(p) }

func (b *bytesBuffer) Bytes() []byte { return b.buf.Bytes()[b.cursor:] }

func (b *bytesBuffer) Len() int { return b.buf.Len() - b.cursor }

func (b *bytesBuffer) Advance(n int) {
	b.cursor += n
	if b.cursor >= b.buf.Len() {
		b.buf.Reset()
		b.cursor = 0
	}
}

func (b *bytesBuffer) Reset() {
	b.buf.Reset()
	b.cursor = 0
}

// ParserSink is a streaming consumer of bytes read off an Object, the
// external collaborator interface spec.md §6 calls "streaming parser
// sink". Concrete wire-format parsers are out of scope (spec.md §1); only
// the interface and a trivial accumulating default are provided.
type ParserSink interface {
	Feed(p []byte)
}

// accumulatingSink is the trivial ParserSink default, useful in tests.
type accumulatingSink struct{ buf bytes.Buffer }

// NewAccumulatingSink returns a ParserSink that just concatenates
// everything fed to it.
func NewAccumulatingSink() *accumulatingSink { return &accumulatingSink{} }

func (s *accumulatingSink) Feed(p []byte) { s.buf.Write(p) }

func (s *accumulatingSink) Bytes() []byte { return s.buf.Bytes() }

// DNSResolver is the external collaborator interface for name resolution
// used by the net-client adapter (spec.md §6). The default implementation
// delegates to net.DefaultResolver; it exists as an interface so tests can
// substitute a deterministic resolver.
type DNSResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// defaultResolver adapts *net.Resolver to DNSResolver.
type defaultResolver struct{ r *net.Resolver }

// NewDefaultResolver returns a DNSResolver backed by net.DefaultResolver.
func NewDefaultResolver() DNSResolver { return &defaultResolver{r: net.DefaultResolver} }

func (d *defaultResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return d.r.LookupIPAddr(ctx, host)
}
