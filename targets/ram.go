package targets

import "github.com/alttpo/iovm/iovm1"

// RAM is a flat, fully readable and writable memory target, standing in
// for WRAM, SRAM, VRAM, CGRAM, OAM, ARAM, and the $2C00 NMI register --
// anything the reference chip set treats as plain bytes.
type RAM struct {
	target iovm1.Target
	data   []byte
}

// NewRAM allocates a zero-filled RAM chip of the given size.
func NewRAM(target iovm1.Target, size int) *RAM {
	return &RAM{target: target, data: make([]byte, size)}
}

func (r *RAM) Target() iovm1.Target { return r.target }

func (r *RAM) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, errOutOfRange
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, errOutOfRange
	}
	return n, nil
}

func (r *RAM) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, errOutOfRange
	}
	n := copy(r.data[off:], p)
	if n < len(p) {
		return n, errOutOfRange
	}
	return n, nil
}
