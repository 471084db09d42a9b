// Package targets provides in-process implementations of the memory
// targets an IOVM1 host exposes to the engine: WRAM, SRAM, ROM, the SNES
// $2C00 NMI trigger, VRAM, CGRAM, OAM, and ARAM. Each is backed by
// io.ReaderAt / io.WriterAt, the same shape the teacher's wasm-side chip
// shims (rom.go, wram.go, oam.go, ...) expose.
package targets

import (
	"fmt"
	"io"

	"github.com/alttpo/iovm/iovm1"
)

// Chip is a single addressable memory target. Not every chip is writable;
// read-only chips do not implement Writable.
type Chip interface {
	io.ReaderAt
	Target() iovm1.Target
}

// Writable is implemented by chips that additionally accept writes.
type Writable interface {
	Chip
	io.WriterAt
}

var errOutOfRange = fmt.Errorf("address out of range")

// Bank is a registry mapping target IDs to chips, used by a Host
// implementation to resolve iovm1.Target bytes into concrete memory.
type Bank struct {
	chips map[iovm1.Target]Chip
}

// NewBank builds a registry from the given chips, keyed by their own
// Target() identifiers.
func NewBank(chips ...Chip) *Bank {
	b := &Bank{chips: make(map[iovm1.Target]Chip, len(chips))}
	for _, c := range chips {
		b.chips[c.Target()] = c
	}
	return b
}

// Lookup resolves a target ID to a chip, or reports
// MemoryTargetUndefined-shaped errors by returning ok=false.
func (b *Bank) Lookup(t iovm1.Target) (Chip, bool) {
	c, ok := b.chips[t]
	return c, ok
}

// DefaultBank constructs a Bank with all eight SNES-shaped targets backed
// by reasonably sized flat byte arrays, suitable for tests and for
// cmd/iovmd's standalone mode.
func DefaultBank() *Bank {
	return NewBank(
		NewRAM(iovm1.TARGET_WRAM, 0x20000),
		NewRAM(iovm1.TARGET_SRAM, 0x20000),
		NewROM(make([]byte, 0x400000)),
		NewRAM(iovm1.TARGET_2C00, 0x100),
		NewRAM(iovm1.TARGET_VRAM, 0x10000),
		NewRAM(iovm1.TARGET_CGRAM, 0x200),
		NewRAM(iovm1.TARGET_OAM, 0x220),
		NewRAM(iovm1.TARGET_ARAM, 0x10000),
	)
}
