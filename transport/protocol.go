// Package transport drives a remote iovm1.VM over a net.Conn using the
// frame package's wire format: a command/response exchange on channel 0,
// and a one-way notification stream on channel 1.
package transport

import (
	"encoding/binary"

	"github.com/alttpo/iovm/iovm1"
)

// CommandType identifies a client -> server message on the command
// channel.
type CommandType uint8

const (
	CmdUpload CommandType = iota
	CmdStart
	CmdStop
	CmdReset
	CmdSetFlags
	CmdGetState
)

// ResponseType identifies a server -> client message on the command
// channel, echoing the CommandType it answers.
type ResponseType uint8

const (
	RspUpload ResponseType = iota
	RspStart
	RspStop
	RspReset
	RspSetFlags
	RspGetState
)

// NotifyType identifies a server -> client message on the notification
// channel.
type NotifyType uint8

const (
	NotifyEnd NotifyType = iota
	NotifyRead
	NotifyWriteStart
	NotifyWriteEnd
	NotifyWait
)

// Result is the transport-level outcome of a command, distinct from the
// iovm1.Result the VM itself may latch (a command can fail before ever
// reaching the VM, e.g. a malformed upload).
type Result = uint8

const (
	Success Result = iota
	MsgTooShort
	CmdUnknown
	VMError
)

const channelCmd = 0
const channelNotify = 1

// putAddr24 encodes a 24-bit address little-endian, matching the
// instruction stream's SETA24 operand order.
func putAddr24(b []byte, addr uint32) {
	b[0] = byte(addr)
	b[1] = byte(addr >> 8)
	b[2] = byte(addr >> 16)
}

func addr24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// prgEndPayload and the other notify payload shapes below mirror the
// reference PrgEnd/ReadChunk/WriteStart/WriteEnd/WaitComplete structs,
// flattened to their wire bytes.
type prgEndPayload struct {
	PC     uint32
	State  iovm1.State
	Result iovm1.Result
}

func encodePrgEnd(p prgEndPayload) []byte {
	b := make([]byte, 4+1+1)
	binary.LittleEndian.PutUint32(b[0:4], p.PC)
	b[4] = byte(p.State)
	b[5] = p.Result
	return b
}

func decodePrgEnd(b []byte) (p prgEndPayload, ok bool) {
	if len(b) < 6 {
		return
	}
	p.PC = le32(b[0:4])
	p.State = iovm1.State(b[4])
	p.Result = b[5]
	ok = true
	return
}

type ioStartPayload struct {
	PC   uint32
	TDU  uint8
	Addr uint32
	Len  uint32
}

func encodeIOStart(p ioStartPayload) []byte {
	b := make([]byte, 4+1+3+2)
	binary.LittleEndian.PutUint32(b[0:4], p.PC)
	b[4] = p.TDU
	putAddr24(b[5:8], p.Addr)
	ln := p.Len
	if ln == 65536 {
		ln = 0
	}
	binary.LittleEndian.PutUint16(b[8:10], uint16(ln))
	return b
}

func decodeIOStart(b []byte) (p ioStartPayload, ok bool) {
	if len(b) < 10 {
		return
	}
	p.PC = le32(b[0:4])
	p.TDU = b[4]
	p.Addr = addr24(b[5:8])
	ln := uint32(le16(b[8:10]))
	if ln == 0 {
		ln = 65536
	}
	p.Len = ln
	ok = true
	return
}

type waitCompletePayload struct {
	PC     uint32
	Opcode iovm1.Opcode
	State  iovm1.State
	Result iovm1.Result
}

func encodeWaitComplete(p waitCompletePayload) []byte {
	b := make([]byte, 4+1+1+1)
	binary.LittleEndian.PutUint32(b[0:4], p.PC)
	b[4] = p.Opcode
	b[5] = byte(p.State)
	b[6] = p.Result
	return b
}

func decodeWaitComplete(b []byte) (p waitCompletePayload, ok bool) {
	if len(b) < 7 {
		return
	}
	p.PC = le32(b[0:4])
	p.Opcode = b[4]
	p.State = iovm1.State(b[5])
	p.Result = b[6]
	ok = true
	return
}
