package iovm1

import (
	"bytes"
	"errors"
)

// errBufferTooLarge is returned when a single transfer exceeds the
// 16-bit length field's range (65536, once the zero-encodes-65536 rule
// is applied).
var errBufferTooLarge = errors.New("buffer too large")

// Builder composes an IOVM1 procedure byte-by-instruction. It is a thin
// convenience over hand-writing Instruction/operand bytes, covering the
// common case of a linear read or write to one of the eight memory
// targets on a single channel.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder { return &Builder{} }

// Bytes returns the procedure assembled so far.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// End appends the END opcode, terminating the procedure.
func (b *Builder) End() *Builder {
	b.buf.WriteByte(OPCODE_END)
	return b
}

// SetAddr appends the shortest SETA8/SETA16/SETA24 instruction that can
// represent addr on channel ch.
func (b *Builder) SetAddr(ch uint8, addr uint32) *Builder {
	switch {
	case addr <= 0xFF:
		b.buf.WriteByte(Instruction(OPCODE_SETA8, ch))
		b.buf.WriteByte(byte(addr))
	case addr <= 0xFFFF:
		b.buf.WriteByte(Instruction(OPCODE_SETA16, ch))
		b.buf.WriteByte(byte(addr))
		b.buf.WriteByte(byte(addr >> 8))
	default:
		b.buf.WriteByte(Instruction(OPCODE_SETA24, ch))
		b.buf.WriteByte(byte(addr))
		b.buf.WriteByte(byte(addr >> 8))
		b.buf.WriteByte(byte(addr >> 16))
	}
	return b
}

// SetTarget appends SETTDU with the given target and descriptor flags
// (TARGETFLAG_REVERSE / TARGETFLAG_UPDATE_ADDR) on channel ch.
func (b *Builder) SetTarget(ch uint8, target Target, flags byte) *Builder {
	b.buf.WriteByte(Instruction(OPCODE_SETTDU, ch))
	b.buf.WriteByte(target | flags)
	return b
}

// SetLength appends SETLEN on channel ch; n == 0 is encoded as the
// maximum transfer length, 65536, per the length family's zero rule.
func (b *Builder) SetLength(ch uint8, n int) *Builder {
	b.buf.WriteByte(Instruction(OPCODE_SETLEN, ch))
	enc := n
	if enc == 65536 {
		enc = 0
	}
	b.buf.WriteByte(byte(enc))
	b.buf.WriteByte(byte(enc >> 8))
	return b
}

// SetCompareMask appends SETCMPMSK on channel ch.
func (b *Builder) SetCompareMask(ch uint8, cmp, mask byte) *Builder {
	b.buf.WriteByte(Instruction(OPCODE_SETCMPMSK, ch))
	b.buf.WriteByte(cmp)
	b.buf.WriteByte(mask)
	return b
}

// SetTimeout appends SETTIM on channel ch.
func (b *Builder) SetTimeout(ch uint8, ticks uint32) *Builder {
	b.buf.WriteByte(Instruction(OPCODE_SETTIM, ch))
	b.buf.WriteByte(byte(ticks))
	b.buf.WriteByte(byte(ticks >> 8))
	b.buf.WriteByte(byte(ticks >> 16))
	b.buf.WriteByte(byte(ticks >> 24))
	return b
}

// Read appends the READ opcode on channel ch.
func (b *Builder) Read(ch uint8) *Builder {
	b.buf.WriteByte(Instruction(OPCODE_READ, ch))
	return b
}

// Write appends WRITE on channel ch followed by the payload inline.
func (b *Builder) Write(ch uint8, data []byte) *Builder {
	b.buf.WriteByte(Instruction(OPCODE_WRITE, ch))
	b.buf.Write(data)
	return b
}

// WaitWhile appends a WAIT_WHILE_* opcode for q on channel ch, or its
// ABORT_UNLESS form if abort is true.
func (b *Builder) WaitWhile(ch uint8, q CmpOperator, abort bool) *Builder {
	opcode := waitOpcodeFor(q)
	if abort {
		b.buf.WriteByte(InstructionAbort(opcode, ch))
	} else {
		b.buf.WriteByte(Instruction(opcode, ch))
	}
	return b
}

func waitOpcodeFor(q CmpOperator) Opcode {
	for opcode, cmp := range opcodeCmp {
		if cmp == q {
			return opcode
		}
	}
	panic("iovm1: no WAIT_WHILE_* opcode for comparison operator")
}

// ReadProgram builds a complete, self-contained procedure performing one
// linear read of n bytes from target starting at addr on channel ch,
// terminated by END. n == 0 is rejected; n == 65536 is the largest single
// transfer the length family supports.
func ReadProgram(target Target, addr uint32, n int, ch uint8) ([]byte, error) {
	if n == 0 {
		return nil, errors.New("iovm1: zero-length read")
	}
	if n > 65536 {
		return nil, errBufferTooLarge
	}
	b := NewBuilder().
		SetTarget(ch, target, 0).
		SetAddr(ch, addr).
		SetLength(ch, n).
		Read(ch).
		End()
	return b.Bytes(), nil
}

// WriteProgram builds a complete, self-contained procedure performing one
// linear write of p to target starting at addr on channel 0, terminated
// by END.
func WriteProgram(target Target, addr uint32, p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, errors.New("iovm1: zero-length write")
	}
	if len(p) > 65536 {
		return nil, errBufferTooLarge
	}
	b := NewBuilder().
		SetTarget(0, target, 0).
		SetAddr(0, addr).
		SetLength(0, len(p)).
		Write(0, p).
		End()
	return b.Bytes(), nil
}
