package iovm1

// registers holds the per-channel operand state set by configuration
// opcodes and consumed by the I/O opcodes.
type registers struct {
	addr    uint32 // a[c]: 24-bit address
	tdu     byte   // tv[c]: target descriptor (low 6 bits target, bit6 reverse, bit7 freeze-addr)
	length  uint32 // len[c]: transfer length, 0 decoded to 65536
	cmp     byte   // cmp[c]
	mask    byte   // msk[c]
	timeout uint32 // tim[c]: timeout in host-defined ticks
}

func (r *registers) target() Target { return r.tdu & targetMask }
func (r *registers) reverse() bool  { return r.tdu&TARGETFLAG_REVERSE != 0 }

// freezeAddr reports whether TARGETFLAG_UPDATE_ADDR is set, which
// suppresses the default post-transfer address auto-advance so a[c] keeps
// pointing at the same address on the next READ/WRITE (useful for a
// channel that repeatedly hits one fixed register).
func (r *registers) freezeAddr() bool { return r.tdu&TARGETFLAG_UPDATE_ADDR != 0 }

// readOp is the READ operation's mutable state.
type readOp struct {
	opstate Opstate
	target  Target
	addr    uint32
	length  uint32
	reverse bool
	freeze  bool
	ch      uint8
}

// writeOp is the WRITE operation's mutable state.
type writeOp struct {
	opstate Opstate
	target  Target
	addr    uint32
	length  uint32
	reverse bool
	freeze  bool
	ch      uint8
	// offset into the procedure buffer the write payload starts at
	dataOffset uint32
	// how much of the payload has been consumed, for chunked hosts
	consumed uint32
}

// waitOp is the WAIT operation's mutable state.
type waitOp struct {
	opstate Opstate
	target  Target
	addr    uint32
	cmp     byte
	mask    byte
	q       CmpOperator
	timeout uint32
	ch      uint8
}

// VM is the IOVM1 execution engine. The zero value is not ready for use;
// construct with New.
type VM struct {
	// procedure buffer: immutable for the duration of a run, borrowed from
	// the host.
	proc []byte
	off  uint32

	state State
	err   Result

	// offset of the currently executing instruction, for error reporting
	pc uint32

	flags Flags

	regs [channelCount]registers

	read  readOp
	write writeOp
	wait  waitOp

	host Host

	userdata interface{}
}

// New constructs an engine in state INIT.
func New(host Host) *VM {
	vm := &VM{}
	Init(vm, host)
	return vm
}

// Init zeros all registers, clears the buffer pointer, and sets state to
// INIT. It may be called on a VM previously used to completion to start a
// fresh lifecycle.
func Init(vm *VM, host Host) {
	*vm = VM{
		state: STATE_INIT,
		host:  host,
	}
	vm.resetRegisters()
}

// resetRegisters restores every channel's registers to their documented
// power-on defaults: all zero except msk[c], which defaults to 0xFF so an
// unmasked WAIT/ABORT compares the full polled byte.
func (vm *VM) resetRegisters() {
	for c := range vm.regs {
		vm.regs[c] = registers{mask: 0xFF}
	}
}

// SetUserdata associates an opaque host context with the VM.
func (vm *VM) SetUserdata(userdata interface{}) {
	vm.userdata = userdata
}

// Userdata returns the value set by SetUserdata, or nil.
func (vm *VM) Userdata() interface{} {
	return vm.userdata
}

// GetState observes the current execution state.
func (vm *VM) GetState() State {
	return vm.state
}

// LatchedError returns the error latched into the VM, valid once state is
// STATE_ERRORED.
func (vm *VM) LatchedError() Result {
	return vm.err
}

// PC returns the offset of the instruction currently executing (or most
// recently executed), for error reporting.
func (vm *VM) PC() uint32 {
	return vm.pc
}

// Load records the procedure buffer and transitions INIT -> LOADED. It is
// only permitted in state INIT.
func Load(vm *VM, proc []byte) Result {
	if vm.state != STATE_INIT {
		return InvalidOperationForState
	}
	if proc == nil {
		return OutOfRange
	}

	vm.proc = proc
	vm.off = 0
	vm.state = STATE_LOADED

	return Success
}

// ExecReset transitions the VM back to STATE_RESET. Permitted from LOADED
// or from any terminal state (ENDED/ERRORED); rejected while an operation
// is in flight.
func ExecReset(vm *VM) Result {
	if vm.state < STATE_LOADED {
		return InvalidOperationForState
	}
	if vm.state >= STATE_EXECUTE_NEXT && vm.state < STATE_ENDED {
		return InvalidOperationForState
	}

	vm.state = STATE_RESET
	vm.err = Success
	return Success
}

// SetFlags updates the notification flags consulted by the optional
// Notifier extension.
func SetFlags(vm *VM, flags Flags) Result {
	vm.flags = flags
	return Success
}

func (vm *VM) hasFlag(f Flags) bool {
	return vm.flags&f != 0
}

// notifier returns the VM's host as a Notifier, if it implements one.
func (vm *VM) notifier() Notifier {
	if n, ok := vm.host.(Notifier); ok {
		return n
	}
	return nil
}

// fetchByte reads the next byte from the procedure buffer and advances the
// cursor. The caller must have already checked bounds.
func (vm *VM) fetchByte() byte {
	b := vm.proc[vm.off]
	vm.off++
	return b
}

func (vm *VM) remaining() uint32 {
	return uint32(len(vm.proc)) - vm.off
}

// WriteData returns the part of the procedure buffer reserved as the source
// of the in-flight WRITE that has not yet been marked consumed (see
// MarkWriteConsumed).
func (vm *VM) WriteData() []byte {
	w := &vm.write
	start := w.dataOffset + w.consumed
	return vm.proc[start : w.dataOffset+w.length]
}

// MarkWriteConsumed advances the WRITE operation's internal read cursor
// over its source data, for hosts that stream the payload in chunks
// rather than consuming it all from a single WriteStateMachine call.
func (vm *VM) MarkWriteConsumed(n uint32) {
	vm.write.consumed += n
}

func translateZeroLen16(raw uint32) uint32 {
	if raw == 0 {
		return 65536
	}
	return raw
}
