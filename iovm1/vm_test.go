package iovm1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// memHost is a minimal Host that backs every target with the same flat
// byte slice, completing READ/WRITE synchronously; a WAIT whose condition
// holds is released by clearing the polled byte on the third poll. It exists only to
// drive the engine in tests; the real default host lives in package
// targets.
type memHost struct {
	mem      [256]byte
	ended    bool
	endState State
	endErr   Result
	waitPolls int
}

func (h *memHost) ReadStateMachine(vm *VM) error {
	vm.CompleteRead()
	return nil
}

func (h *memHost) WriteStateMachine(vm *VM) error {
	data := vm.WriteData()
	copy(h.mem[vm.WriteAddr():], data)
	vm.MarkWriteConsumed(uint32(len(data)))
	vm.CompleteWrite()
	return nil
}

func (h *memHost) WaitStateMachine(vm *VM) error {
	h.waitPolls++
	if h.waitPolls >= 3 {
		h.mem[vm.WaitAddr()] = 0x00
	}
	b := h.mem[vm.WaitAddr()]
	if !vm.WaitTestByte(b) {
		vm.CompleteWait()
		return nil
	}
	vm.SetWaitOpstate(OPSTATE_CONTINUE)
	return nil
}

func (h *memHost) TryReadByte(target Target, addr uint32) (byte, error) {
	return h.mem[addr], nil
}

func (h *memHost) SendEnd(vm *VM) {
	h.ended = true
	h.endState = vm.GetState()
	h.endErr = vm.LatchedError()
}

// runUntilTerminal drives Exec until the VM reaches ENDED/ERRORED or the
// call budget runs out, matching the cooperative contract: a WAIT that is
// still CONTINUE returns Success with state unchanged, and the host is
// expected to call Exec again for the next poll.
func runUntilTerminal(vm *VM) Result {
	var res Result
	for i := 0; i < 10 && vm.GetState() < STATE_ENDED; i++ {
		res = Exec(vm)
	}
	return res
}

func TestEmptyProgramEndsImmediately(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	vm := New(h)

	assert.Equal(Success, Load(vm, []byte{OPCODE_END}))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	assert.True(h.ended)
}

func TestProgramWithNoEndStillEnds(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	vm := New(h)

	assert.Equal(Success, Load(vm, []byte{}))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
}

func TestReadAutoAdvancesAddressWithoutSETTDU(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	vm := New(h)

	prog := []byte{
		Instruction(OPCODE_SETA24, 2), 0x10, 0x00, 0xF5,
		Instruction(OPCODE_SETLEN, 2), 0x02, 0x00,
		Instruction(OPCODE_READ, 2),
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	assert.Equal(uint32(0x00F50012), vm.regs[2].addr)
}

func TestFreezeAddrSuppressesAutoAdvance(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	vm := New(h)

	prog := []byte{
		Instruction(OPCODE_SETTDU, 3), TARGET_2C00 | TARGETFLAG_UPDATE_ADDR,
		Instruction(OPCODE_SETA8, 3), 0x00,
		Instruction(OPCODE_SETLEN, 3), 0x06, 0x00,
		Instruction(OPCODE_WRITE, 3), 0x9C, 0x00, 0x2C, 0x6C, 0xEA, 0xFF,
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	assert.Equal(uint32(0x00), vm.regs[3].addr)
}

func TestReverseFlagWalksTheAddressRegisterDownward(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	vm := New(h)

	prog := []byte{
		Instruction(OPCODE_SETTDU, 1), TARGET_WRAM | TARGETFLAG_REVERSE,
		Instruction(OPCODE_SETA8, 1), 0x10,
		Instruction(OPCODE_SETLEN, 1), 0x04, 0x00,
		Instruction(OPCODE_WRITE, 1), 0xDE, 0xAD, 0xBE, 0xEF,
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	// a[1] started at 0x10; a reverse transfer of length 4 leaves it at
	// 0x10-4 = 0x0C instead of advancing forward to 0x14.
	assert.Equal(uint32(0x0C), vm.regs[1].addr)
}

func TestWaitWhileNeqPollsUntilConditionHolds(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	h.mem[0] = 0xFF
	vm := New(h)

	prog := []byte{
		Instruction(OPCODE_SETTDU, 3), TARGET_2C00,
		Instruction(OPCODE_SETA8, 3), 0x00,
		Instruction(OPCODE_SETCMPMSK, 3), 0x00, 0xFF,
		Instruction(OPCODE_WAIT_WHILE_NEQ, 3),
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	// WAIT_WHILE_* is cooperative: each Exec call that still sees the
	// condition holding consumes one poll and returns with the VM parked
	// in STATE_WAIT, so reaching ENDED takes as many calls as polls.
	assert.Equal(Success, runUntilTerminal(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	assert.Equal(3, h.waitPolls)
}

func TestAbortUnlessAbortsWhenConditionHolds(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	h.mem[0] = 0xFF
	vm := New(h)

	prog := []byte{
		Instruction(OPCODE_SETTDU, 3), TARGET_2C00,
		Instruction(OPCODE_SETA8, 3), 0x00,
		Instruction(OPCODE_SETCMPMSK, 3), 0x00, 0xFF,
		InstructionAbort(OPCODE_WAIT_WHILE_NEQ, 3),
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Aborted, Exec(vm))
	assert.Equal(STATE_ERRORED, vm.GetState())
	assert.Equal(Aborted, vm.LatchedError())
	assert.True(h.ended)
}

func TestAbortUnlessContinuesWhenConditionDoesNotHold(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	h.mem[0] = 0x00
	vm := New(h)

	prog := []byte{
		Instruction(OPCODE_SETTDU, 3), TARGET_2C00,
		Instruction(OPCODE_SETA8, 3), 0x00,
		Instruction(OPCODE_SETCMPMSK, 3), 0x00, 0xFF,
		InstructionAbort(OPCODE_WAIT_WHILE_NEQ, 3),
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
}

func TestWaitWhileConsumesRegisterCmpMaskNotInlineOperands(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	h.mem[0] = 0xFF
	vm := New(h)

	// SETCMPMSK writes cmp/mask into the channel's registers; WAIT_WHILE_*
	// itself carries no inline operand bytes and must read them back from
	// there, not from whatever bytes happen to follow in the procedure.
	prog := []byte{
		Instruction(OPCODE_SETTDU, 3), TARGET_2C00,
		Instruction(OPCODE_SETA8, 3), 0x00,
		Instruction(OPCODE_SETCMPMSK, 3), 0x00, 0xFF,
		Instruction(OPCODE_WAIT_WHILE_NEQ, 3),
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, runUntilTerminal(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	assert.Equal(3, h.waitPolls)
}

func TestMaskDefaultsToAllOnesWithoutSETCMPMSK(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	h.mem[0] = 0xFF
	vm := New(h)

	// no SETCMPMSK: cmp[c] defaults to 0 and msk[c] must default to 0xFF
	// so the polled byte is tested unmasked against it, not masked to 0.
	prog := []byte{
		Instruction(OPCODE_SETTDU, 1), TARGET_2C00,
		Instruction(OPCODE_SETA8, 1), 0x00,
		Instruction(OPCODE_WAIT_WHILE_NEQ, 1),
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, runUntilTerminal(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	assert.Equal(3, h.waitPolls)
}

func TestReservedInstructionBitIsRejected(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	vm := New(h)

	prog := []byte{Instruction(OPCODE_END, 0) | instReservedFlag}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(UnknownOpcode, Exec(vm))
	assert.Equal(STATE_ERRORED, vm.GetState())
}

func TestDecodeInstructionIsolatesOpcodeChannelAndAbortBit(t *testing.T) {
	assert := assert.New(t)

	opcode, ch, abort := decodeInstruction(InstructionAbort(OPCODE_WAIT_WHILE_GTE, 2))
	assert.Equal(OPCODE_WAIT_WHILE_GTE, opcode)
	assert.Equal(uint8(2), ch)
	assert.True(abort)

	opcode, ch, abort = decodeInstruction(Instruction(OPCODE_READ, 3))
	assert.Equal(OPCODE_READ, opcode)
	assert.Equal(uint8(3), ch)
	assert.False(abort)
}

func TestLoadRejectsNonInitState(t *testing.T) {
	assert := assert.New(t)

	h := &memHost{}
	vm := New(h)
	assert.Equal(Success, Load(vm, []byte{OPCODE_END}))
	assert.Equal(InvalidOperationForState, Load(vm, []byte{OPCODE_END}))
}

func TestExecResetRejectedWhileOperationInFlight(t *testing.T) {
	assert := assert.New(t)

	h := &stallingHost{}
	vm := New(h)

	prog := []byte{
		Instruction(OPCODE_SETTDU, 0), TARGET_WRAM,
		Instruction(OPCODE_SETA8, 0), 0x10,
		Instruction(OPCODE_SETLEN, 0), 0x01, 0x00,
		Instruction(OPCODE_READ, 0),
		OPCODE_END,
	}
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_READ, vm.GetState())

	assert.Equal(InvalidOperationForState, ExecReset(vm))
}

// stallingHost never completes a READ, leaving the VM parked in STATE_READ
// so ExecReset's in-flight rejection can be exercised.
type stallingHost struct{}

func (stallingHost) ReadStateMachine(vm *VM) error {
	vm.SetReadOpstate(OPSTATE_CONTINUE)
	return nil
}
func (stallingHost) WriteStateMachine(vm *VM) error           { return nil }
func (stallingHost) WaitStateMachine(vm *VM) error             { return nil }
func (stallingHost) TryReadByte(Target, uint32) (byte, error)  { return 0, nil }
func (stallingHost) SendEnd(vm *VM)                            {}
