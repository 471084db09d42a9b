package targets

import "github.com/alttpo/iovm/iovm1"

// ROM is a read-only memory target. It has no WriteAt method, so it does
// not implement Writable and SyncHost reports writes to it as
// MemoryTargetNotWritable.
type ROM struct {
	data []byte
}

// NewROM wraps an existing byte slice as a read-only target. The slice is
// not copied; the caller must not mutate it concurrently with VM use.
func NewROM(data []byte) *ROM {
	return &ROM{data: data}
}

func (r *ROM) Target() iovm1.Target { return iovm1.TARGET_ROM }

func (r *ROM) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.data)) {
		return 0, errOutOfRange
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, errOutOfRange
	}
	return n, nil
}
