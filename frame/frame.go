// Package frame implements the wire framing the transport layer runs its
// command/notification protocol over: a stream of 1..64-byte chunks, each
// prefixed by a single header byte
//
//	[fcll llll]   f = final frame of message
//	              c = channel (0 = control, 1 = data)
//	              l = length of this frame's payload, 0..63
//
// Messages larger than 63 bytes are split across multiple non-final
// frames; the final frame of a message sets f=1. The channel bit lets a
// control message interleave with an in-flight data stream without
// waiting for it to finish.
package frame

const (
	maxPayload       = 63
	headerFinalBit   = 0x80
	headerChannelBit = 0x40
	headerLengthMask = 0x3F
)

// F is a single decoded frame, reused across ReadInto calls to avoid
// per-frame allocation.
type F struct {
	b   [63]byte
	n   int
	fin bool
	chn uint8
}

// IsFinal reports whether this frame completes its message.
func (f *F) IsFinal() bool { return f.fin }

// Channel reports which of the two multiplexed channels this frame
// belongs to.
func (f *F) Channel() uint8 { return f.chn }

// Data returns the frame's payload, valid until the next ReadInto call.
func (f *F) Data() []byte { return f.b[0:f.n] }
