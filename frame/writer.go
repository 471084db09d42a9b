package frame

import "io"

// Writer packs written bytes into frames on a single channel, emitting a
// full frame every 63 bytes and a final (possibly short, possibly empty)
// frame on Close.
type Writer struct {
	b   [1 + maxPayload]byte
	w   io.Writer
	p   int
	chn uint8
}

// NewWriter returns a Writer that emits frames tagged with channel chn
// (0 or 1) to w.
func NewWriter(w io.Writer, chn uint8) *Writer {
	return &Writer{w: w, chn: chn}
}

func (f *Writer) Write(p []byte) (total int, err error) {
	for len(p) > 0 {
		n := copy(f.b[1+f.p:], p)
		f.p += n
		total += n
		p = p[n:]

		if f.p < maxPayload {
			continue
		}
		// the buffer is full; if there's nothing left to write this can
		// still be the message's last frame, so leave it for Close.
		if len(p) == 0 {
			return
		}
		if err = f.flush(false); err != nil {
			return
		}
	}
	return
}

// Close flushes any buffered bytes as the final frame of the message. The
// Writer is reusable for a new message afterward.
func (f *Writer) Close() error {
	return f.flush(true)
}

func (f *Writer) flush(final bool) error {
	header := byte(f.p) & headerLengthMask
	if f.chn&1 != 0 {
		header |= headerChannelBit
	}
	if final {
		header |= headerFinalBit
	}
	f.b[0] = header

	_, err := f.w.Write(f.b[0 : 1+f.p])
	f.p = 0
	return err
}

// WriteMessage frames and sends msg as one or more frames, finishing with
// a final frame, in one call.
func WriteMessage(w io.Writer, chn uint8, msg []byte) error {
	fw := NewWriter(w, chn)
	if _, err := fw.Write(msg); err != nil {
		return err
	}
	return fw.Close()
}
