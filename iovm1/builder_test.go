package iovm1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadProgramExecutesAndAdvancesAddress(t *testing.T) {
	assert := assert.New(t)

	prog, err := ReadProgram(TARGET_WRAM, 0x00F50010, 4, 2)
	assert.NoError(err)

	h := &memHost{}
	vm := New(h)
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, Exec(vm))
	assert.Equal(STATE_ENDED, vm.GetState())
	assert.Equal(uint32(0x00F50014), vm.regs[2].addr)
}

func TestWriteProgramDeliversPayload(t *testing.T) {
	assert := assert.New(t)

	prog, err := WriteProgram(TARGET_WRAM, 0x20, []byte{0xCA, 0xFE})
	assert.NoError(err)

	h := &memHost{}
	vm := New(h)
	assert.Equal(Success, Load(vm, prog))
	assert.Equal(Success, Exec(vm))
	assert.Equal([]byte{0xCA, 0xFE}, h.mem[0x20:0x22])
}

func TestBuilderWaitWhileRoundTripsComparisonOperator(t *testing.T) {
	assert := assert.New(t)

	prog := NewBuilder().
		SetTarget(1, TARGET_2C00, 0).
		SetAddr(1, 0x00).
		SetCompareMask(1, 0x00, 0xFF).
		WaitWhile(1, CMP_EQ, true).
		End().
		Bytes()

	opcode, ch, abort := decodeInstruction(prog[7])
	assert.Equal(OPCODE_WAIT_WHILE_EQ, opcode)
	assert.Equal(uint8(1), ch)
	assert.True(abort)
}

func TestReadProgramRejectsZeroLength(t *testing.T) {
	assert := assert.New(t)

	_, err := ReadProgram(TARGET_WRAM, 0, 0, 0)
	assert.Error(err)
}
