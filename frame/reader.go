package frame

import "io"

// Reader decodes a byte stream into frames. It is not safe for concurrent
// use by multiple goroutines.
type Reader struct {
	buf  [1 + maxPayload]byte
	head int
	tail int

	haveHeader bool
	header     byte
	payloadLen int

	r   io.Reader
	err error
}

// NewReader wraps r as a frame source.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadInto blocks until either f holds the next complete frame (ok=true),
// the underlying reader is exhausted with no frame in flight (err set),
// or there was no new frame available after one Read (ok=false, err=nil,
// meaning the caller should call ReadInto again).
func (r *Reader) ReadInto(f *F) (ok bool, err error) {
	if r.err == nil {
		if r.tail < len(r.buf) {
			var n int
			n, r.err = r.r.Read(r.buf[r.tail:])
			r.tail += n
			if r.err != nil && r.head >= r.tail {
				return false, r.err
			}
		}
	} else if r.head >= r.tail {
		return false, r.err
	}

	if !r.haveHeader {
		if r.head >= r.tail {
			return false, nil
		}
		r.header = r.buf[r.head]
		r.head++
		r.payloadLen = int(r.header & headerLengthMask)
		r.haveHeader = true
	}

	if r.head+r.payloadLen > r.tail {
		// payload not fully buffered yet
		return false, nil
	}

	f.fin = r.header&headerFinalBit != 0
	f.chn = (r.header & headerChannelBit) >> 6
	f.n = copy(f.b[:], r.buf[r.head:r.head+r.payloadLen])

	r.head += r.payloadLen
	r.haveHeader = false

	if r.head >= r.tail {
		r.head, r.tail = 0, 0
	} else {
		r.tail -= r.head
		copy(r.buf[:], r.buf[r.head:])
		r.head = 0
	}

	return true, nil
}

// ReadMessage accumulates frames until the final one, appending their
// payloads into a fresh buffer. Frames are not separated by channel: chn is
// the channel of the final frame, and frames of the other channel that
// arrive in between are appended to the same message.
func (r *Reader) ReadMessage() (chn uint8, msg []byte, err error) {
	var f F
	for {
		ok, e := r.ReadInto(&f)
		if e != nil {
			return 0, nil, e
		}
		if !ok {
			continue
		}
		chn = f.Channel()
		msg = append(msg, f.Data()...)
		if f.IsFinal() {
			return
		}
	}
}
