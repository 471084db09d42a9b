package iovm1

// Exec performs one cooperative step. It returns quickly: either the
// procedue ended, an operation suspended awaiting more host work, or an
// error latched. It is idempotent once the VM has reached a terminal
// state.
func Exec(vm *VM) Result {
	if vm.state >= STATE_ERRORED {
		return vm.err
	}

	if vm.state < STATE_LOADED {
		return InvalidOperationForState
	}

	if vm.state == STATE_LOADED {
		vm.state = STATE_RESET
	}
	if vm.state == STATE_RESET {
		vm.off = 0
		vm.read = readOp{}
		vm.write = writeOp{}
		vm.wait = waitOp{}
		vm.resetRegisters()
		vm.state = STATE_EXECUTE_NEXT
	}

	// dispatch loop: a freshly-decoded I/O op gets its first state-machine
	// call in the same Exec call; a completed op falls through to
	// EXECUTE_NEXT and the loop picks up the next instruction; an op still
	// in progress after its call returns, one host poll per Exec call.
	for {
		switch vm.state {
		case STATE_READ, STATE_WRITE, STATE_WAIT:
			res, done := vm.stepOp()
			if !done || res != Success {
				return res
			}

		case STATE_EXECUTE_NEXT:
			if vm.off >= uint32(len(vm.proc)) {
				vm.state = STATE_ENDED
				vm.host.SendEnd(vm)
				return Success
			}

			vm.pc = vm.off
			x := vm.fetchByte()
			if x&instReservedFlag != 0 {
				return vm.fail(UnknownOpcode)
			}
			opcode, ch, abort := decodeInstruction(x)

			if opcode == OPCODE_END {
				vm.state = STATE_ENDED
				vm.host.SendEnd(vm)
				return Success
			}

			if res := vm.execConfigOrIO(opcode, ch, abort); res != Success {
				return vm.fail(res)
			}

		default:
			return Success
		}
	}
}

// execConfigOrIO decodes and performs a single configuration opcode
// inline, or sets up the operation record and transitions state for an
// I/O opcode. It never invokes a state-machine callback; the only host
// calls made here are TryReadByte for the ABORT_UNLESS check and the
// optional NotifyWriteStart.
func (vm *VM) execConfigOrIO(opcode Opcode, ch uint8, abort bool) Result {
	reg := &vm.regs[ch]

	switch opcode {
	case OPCODE_SETA8:
		if vm.remaining() < 1 {
			return OutOfRange
		}
		reg.addr = uint32(vm.fetchByte())
		return Success

	case OPCODE_SETA16:
		if vm.remaining() < 2 {
			return OutOfRange
		}
		lo := uint32(vm.fetchByte())
		hi := uint32(vm.fetchByte()) << 8
		reg.addr = hi | lo
		return Success

	case OPCODE_SETA24:
		if vm.remaining() < 3 {
			return OutOfRange
		}
		lo := uint32(vm.fetchByte())
		hi := uint32(vm.fetchByte()) << 8
		bk := uint32(vm.fetchByte()) << 16
		reg.addr = bk | hi | lo
		return Success

	case OPCODE_SETTDU:
		if vm.remaining() < 1 {
			return OutOfRange
		}
		reg.tdu = vm.fetchByte()
		return Success

	case OPCODE_SETLEN:
		if vm.remaining() < 2 {
			return OutOfRange
		}
		lo := uint32(vm.fetchByte())
		hi := uint32(vm.fetchByte()) << 8
		reg.length = translateZeroLen16(hi | lo)
		return Success

	case OPCODE_SETCMPMSK:
		if vm.remaining() < 2 {
			return OutOfRange
		}
		reg.cmp = vm.fetchByte()
		reg.mask = vm.fetchByte()
		return Success

	case OPCODE_SETTIM:
		if vm.remaining() < 4 {
			return OutOfRange
		}
		b0 := uint32(vm.fetchByte())
		b1 := uint32(vm.fetchByte()) << 8
		b2 := uint32(vm.fetchByte()) << 16
		b3 := uint32(vm.fetchByte()) << 24
		reg.timeout = b3 | b2 | b1 | b0
		return Success

	case OPCODE_READ:
		vm.read = readOp{
			opstate: OPSTATE_INIT,
			target:  reg.target(),
			addr:    reg.addr,
			length:  reg.length,
			reverse: reg.reverse(),
			freeze:  reg.freezeAddr(),
			ch:      ch,
		}
		vm.state = STATE_READ
		return Success

	case OPCODE_WRITE:
		length := reg.length
		if vm.remaining() < length {
			return OutOfRange
		}
		dataOffset := vm.off
		vm.off += length // next_off computed before entering the state machine

		vm.write = writeOp{
			opstate:    OPSTATE_INIT,
			target:     reg.target(),
			addr:       reg.addr,
			length:     length,
			reverse:    reg.reverse(),
			freeze:     reg.freezeAddr(),
			ch:         ch,
			dataOffset: dataOffset,
		}
		vm.state = STATE_WRITE
		if n := vm.notifier(); n != nil && vm.hasFlag(FlagNotifyWriteStart) {
			n.NotifyWriteStart(vm)
		}
		return Success

	default:
		q, ok := opcodeCmp[opcode]
		if !ok {
			return UnknownOpcode
		}

		if abort {
			return vm.execAbort(reg, q, reg.cmp, reg.mask)
		}

		vm.wait = waitOp{
			opstate: OPSTATE_INIT,
			target:  reg.target(),
			addr:    reg.addr,
			cmp:     reg.cmp,
			mask:    reg.mask,
			q:       q,
			timeout: reg.timeout,
			ch:      ch,
		}
		vm.state = STATE_WAIT
		return Success
	}
}

// execAbort performs the single-shot, synchronous ABORT_UNLESS check: the
// same comparison a WAIT_WHILE_* opcode would poll on is instead tested
// exactly once. If the condition a wait would still be blocking on holds,
// the whole run aborts; otherwise execution continues to the next
// instruction.
func (vm *VM) execAbort(reg *registers, q CmpOperator, cmp, mask byte) Result {
	b, err := vm.host.TryReadByte(reg.target(), reg.addr)
	if err != nil {
		return resultFromError(err)
	}
	if Compare(q, b&mask, cmp) {
		return Aborted
	}
	return Success
}

// stepOp invokes the active operation's state machine exactly once and
// interprets the result. done reports whether the op has finished: either
// it errored (res is the latched error, and Exec returns it) or it completed
// and advanced state to EXECUTE_NEXT (res is Success, and Exec's dispatch
// loop continues); done is false while the op is still in progress, in which
// case res is always Success and vm.state is left unchanged for the host to
// call Exec again.
func (vm *VM) stepOp() (res Result, done bool) {
	var err error

	switch vm.state {
	case STATE_READ:
		err = vm.host.ReadStateMachine(vm)
	case STATE_WRITE:
		err = vm.host.WriteStateMachine(vm)
	case STATE_WAIT:
		err = vm.host.WaitStateMachine(vm)
	}

	if err != nil {
		return vm.fail(resultFromError(err)), true
	}

	switch vm.state {
	case STATE_READ:
		if vm.read.opstate != OPSTATE_COMPLETED {
			return Success, false
		}
		if !vm.read.freeze {
			n := vm.read.length
			vm.regs[vm.read.ch].addr = advanceAddr(vm.read.addr, n, vm.read.reverse)
		}
	case STATE_WRITE:
		if vm.write.opstate != OPSTATE_COMPLETED {
			return Success, false
		}
		if n := vm.notifier(); n != nil && vm.hasFlag(FlagNotifyWriteEnd) {
			n.NotifyWriteEnd(vm)
		}
		if !vm.write.freeze {
			n := vm.write.length
			vm.regs[vm.write.ch].addr = advanceAddr(vm.write.addr, n, vm.write.reverse)
		}
	case STATE_WAIT:
		if vm.wait.opstate != OPSTATE_COMPLETED {
			return Success, false
		}
		if n := vm.notifier(); n != nil && vm.hasFlag(FlagNotifyWaitComplete) {
			n.NotifyWaitComplete(vm)
		}
	}

	vm.state = STATE_EXECUTE_NEXT
	return Success, true
}

func (vm *VM) fail(res Result) Result {
	vm.err = res
	vm.state = STATE_ERRORED
	vm.host.SendEnd(vm)
	return res
}

// resultFromError maps a host callback error to a Result code. Hosts may
// return one of the sentinel errors in Errors directly, in which case the
// matching code is used; any other error is reported as
// MemoryTargetAddressOutOfRange, the closest-fitting runtime I/O error.
func resultFromError(err error) Result {
	for code, sentinel := range Errors {
		if sentinel == err {
			return code
		}
	}
	return MemoryTargetAddressOutOfRange
}
