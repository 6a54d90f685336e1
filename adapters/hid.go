package adapters

import (
	"io"

	mio "github.com/Monetra/go-mio"
)

// HID wraps a HID device handle in the same report-sized-frame model most
// HID access libraries expose: fixed-size reports rather than a raw byte
// stream. No HID library appears in the retrieval pack, so — like
// Serial — this is a deliberately stdlib-only adapter over an
// io.ReadWriteCloser-shaped handle (see DESIGN.md); it shares Serial's
// read-pump/state-machine plumbing and simply layers report-size framing
// on top, since HID reads/writes must be exactly ReportSize bytes.
type HID struct {
	*Serial
	ReportSize int
}

// NewHID wraps dev, treating every Read/Write as a ReportSize-byte frame.
func NewHID(dev io.ReadWriteCloser, reportSize int) *HID {
	return &HID{Serial: NewSerial(dev), ReportSize: reportSize}
}

func (h *HID) LayerName() string { return "hid" }

// Read returns exactly one report's worth of bytes, or WouldBlock if a full
// report hasn't arrived yet.
func (h *HID) Read(buf []byte) (int, mio.IOError) {
	h.Serial.readMu.Lock()
	if len(h.Serial.readBuf) < h.ReportSize {
		h.Serial.readMu.Unlock()
		return 0, mio.WouldBlock
	}
	n := copy(buf, h.Serial.readBuf[:h.ReportSize])
	h.Serial.readBuf = h.Serial.readBuf[h.ReportSize:]
	h.Serial.readMu.Unlock()
	return n, mio.Success
}

// Write requires exactly one report's worth of bytes.
func (h *HID) Write(buf []byte) (int, mio.IOError) {
	if len(buf) != h.ReportSize {
		return 0, mio.Invalid
	}
	return h.Serial.Write(buf)
}

func (h *HID) Introspect() (name, version string) { return "hid", "1.0" }
