package adapters

import (
	"time"

	"github.com/joeycumines/go-catrate"

	mio "github.com/Monetra/go-mio"
)

// BandwidthShaper is a mid-stack Layer throttling the byte volume passed
// through to/from inner, resolving spec.md §9's open question on how
// bandwidth shaping enforces its rolling window: by delegating directly to
// catrate.Limiter's sliding-window rate limiter rather than hand-rolling a
// token bucket. Object.Read/Write only ever invoke the top layer (the last
// one passed to mio.NewObject), so — like TLS wrapping a net.Conn — a
// mid-stack transform layer holds an explicit reference to the layer
// beneath it in the stack and delegates once the limiter clears the call;
// its position in the Object's layer list governs only upward event
// propagation (ProcessEvent), not the data path. Each write/read is
// registered as rateUnit-byte events against a single category; once
// Limiter.Allow refuses, BandwidthShaper returns mio.WouldBlock. It posts
// no event and arms no timer when that happens, so nothing is delivered to
// the object when the window has room again.
type BandwidthShaper struct {
	inner    mio.Layer
	limiter  *catrate.Limiter
	rateUnit int // bytes per Allow() call
	category any
}

// NewBandwidthShaper wraps inner (the next layer down — typically a leaf
// transport, but any Layer implementing Reader/Writer) with a shaper
// enforcing the given byte-rate windows. rateUnit bytes are accounted as a
// single event; category partitions the limiter's accounting (e.g.
// per-connection vs. a single shared shaper).
func NewBandwidthShaper(inner mio.Layer, rates map[time.Duration]int, rateUnit int, category any) *BandwidthShaper {
	if rateUnit <= 0 {
		rateUnit = 1024
	}
	return &BandwidthShaper{
		inner:    inner,
		limiter:  catrate.NewLimiter(rates),
		rateUnit: rateUnit,
		category: category,
	}
}

func (b *BandwidthShaper) LayerName() string { return "bwshape" }

func (b *BandwidthShaper) Introspect() (name, version string) { return "bwshape", "1.0" }

// ProcessEvent passes every event through unshaped: an OS-origin EventRead
// carries no Data (the actual bytes are fetched afterward via Read), so
// gating here would consume exactly one token regardless of transfer size.
// Shaping only makes sense where the real byte count is known, which is
// the Read/Write methods below.
func (b *BandwidthShaper) ProcessEvent(ctx *mio.LayerContext, ev mio.ObjectEvent) mio.Verdict {
	return mio.Verdict{Action: mio.Pass, Event: ev}
}

// allow reports whether n more bytes may pass now, registering one Allow
// call per rateUnit-sized chunk (rounding up) so a large buffer consumes
// proportionally more of the window than a small one.
func (b *BandwidthShaper) allow(n int) bool {
	units := (n + b.rateUnit - 1) / b.rateUnit
	if units == 0 {
		units = 1
	}
	for i := 0; i < units; i++ {
		if _, ok := b.limiter.Allow(b.category); !ok {
			return false
		}
	}
	return true
}

// Write gates the call against the limiter before delegating to inner;
// bytes that don't clear the limiter never reach the transport below.
func (b *BandwidthShaper) Write(buf []byte) (int, mio.IOError) {
	w, ok := b.inner.(mio.Writer)
	if !ok {
		return 0, mio.NotImplemented
	}
	if !b.allow(len(buf)) {
		return 0, mio.WouldBlock
	}
	return w.Write(buf)
}

// Read gates the call against the limiter before delegating to inner.
func (b *BandwidthShaper) Read(buf []byte) (int, mio.IOError) {
	r, ok := b.inner.(mio.Reader)
	if !ok {
		return 0, mio.NotImplemented
	}
	if !b.allow(len(buf)) {
		return 0, mio.WouldBlock
	}
	return r.Read(buf)
}
