package transport

import (
	"encoding/binary"
	"log"
	"net"
	"sync"

	"github.com/alttpo/iovm/frame"
	"github.com/alttpo/iovm/iovm1"
	"github.com/alttpo/iovm/targets"
)

// Server drives one iovm1.VM on behalf of a single connected client. One
// Server per net.Conn; the engine itself is not safe for concurrent use,
// so a Server never runs more than one command at a time.
type Server struct {
	conn net.Conn
	fr   *frame.Reader

	fwLock sync.Mutex
	fw     *frame.Writer
	nw     *frame.Writer

	vm   *iovm1.VM
	host *targets.SyncHost
}

// NewServer wires a VM backed by bank to conn, ready to Serve.
func NewServer(conn net.Conn, bank *targets.Bank) *Server {
	s := &Server{
		conn: conn,
		fr:   frame.NewReader(conn),
		fw:   frame.NewWriter(conn, channelCmd),
		nw:   frame.NewWriter(conn, channelNotify),
	}
	s.host = targets.NewSyncHost(bank, s.sendEnd)
	s.host.Notify = s
	s.vm = iovm1.New(s.host)
	return s
}

// Serve reads commands from the connection until it errors or is closed.
func (s *Server) Serve() error {
	for {
		chn, msg, err := s.fr.ReadMessage()
		if err != nil {
			return err
		}
		if chn != channelCmd || len(msg) < 1 {
			continue
		}
		if err := s.dispatch(CommandType(msg[0]), msg[1:]); err != nil {
			log.Printf("iovm1 transport: command dispatch error: %v", err)
		}
	}
}

func (s *Server) writeCmd(rsp ResponseType, payload []byte) error {
	s.fwLock.Lock()
	defer s.fwLock.Unlock()

	if _, err := s.fw.Write([]byte{byte(rsp)}); err != nil {
		return err
	}
	if _, err := s.fw.Write(payload); err != nil {
		return err
	}
	return s.fw.Close()
}

func (s *Server) writeNotify(nt NotifyType, payload []byte) error {
	s.fwLock.Lock()
	defer s.fwLock.Unlock()

	if _, err := s.nw.Write([]byte{byte(nt)}); err != nil {
		return err
	}
	if _, err := s.nw.Write(payload); err != nil {
		return err
	}
	return s.nw.Close()
}

func (s *Server) dispatch(cmd CommandType, body []byte) error {
	switch cmd {
	case CmdUpload:
		res := iovm1.Success
		if vmres := iovm1.Load(s.vm, body); vmres != iovm1.Success {
			res = vmres
		}
		return s.writeCmd(RspUpload, []byte{resultByte(res), res})

	case CmdStart:
		vmres := iovm1.Exec(s.vm)
		return s.writeCmd(RspStart, []byte{resultByte(vmres), vmres})

	case CmdStop:
		// Stop has no VM-level counterpart: the engine is cooperative, not
		// preemptible, so "stop" is only acknowledged and the VM's state is
		// left as it is.
		return s.writeCmd(RspStop, []byte{Success, iovm1.Success})

	case CmdReset:
		vmres := iovm1.ExecReset(s.vm)
		return s.writeCmd(RspReset, []byte{resultByte(vmres), vmres})

	case CmdSetFlags:
		if len(body) < 1 {
			return s.writeCmd(RspSetFlags, []byte{MsgTooShort, iovm1.Success})
		}
		vmres := iovm1.SetFlags(s.vm, body[0])
		return s.writeCmd(RspSetFlags, []byte{resultByte(vmres), vmres})

	case CmdGetState:
		state := s.vm.GetState()
		b := make([]byte, 6)
		b[0] = Success
		b[1] = iovm1.Success
		binary.LittleEndian.PutUint32(b[2:6], uint32(state))
		return s.writeCmd(RspGetState, b)

	default:
		return s.writeCmd(ResponseType(cmd), []byte{CmdUnknown, iovm1.Success})
	}
}

func resultByte(vmres iovm1.Result) uint8 {
	if vmres == iovm1.Success {
		return Success
	}
	return VMError
}

func (s *Server) sendEnd(vm *iovm1.VM) {
	_ = s.writeNotify(NotifyEnd, encodePrgEnd(prgEndPayload{
		PC:     vm.PC(),
		State:  vm.GetState(),
		Result: vm.LatchedError(),
	}))
}

// NotifyReadChunk, NotifyWriteStart, NotifyWriteByte, NotifyWriteEnd, and
// NotifyWaitComplete implement targets.Notifier, translating live
// operation progress into notification frames for the client.

func (s *Server) NotifyReadChunk(vm *iovm1.VM, chunk []byte, chunkOffset uint32, isFinal bool) {
	payload := encodeIOStart(ioStartPayload{
		PC:   vm.PC(),
		TDU:  byte(vm.ReadTarget()),
		Addr: vm.ReadAddr(),
		Len:  vm.ReadLength(),
	})
	payload = append(payload, chunk...)
	_ = s.writeNotify(NotifyRead, payload)
}

func (s *Server) NotifyWriteStart(vm *iovm1.VM) {
	_ = s.writeNotify(NotifyWriteStart, encodeIOStart(ioStartPayload{
		PC:   vm.PC(),
		TDU:  byte(vm.WriteTarget()),
		Addr: vm.WriteAddr(),
		Len:  vm.WriteLength(),
	}))
}

func (s *Server) NotifyWriteByte(vm *iovm1.VM, b byte) {}

func (s *Server) NotifyWriteEnd(vm *iovm1.VM) {
	_ = s.writeNotify(NotifyWriteEnd, encodeIOStart(ioStartPayload{
		PC:   vm.PC(),
		TDU:  byte(vm.WriteTarget()),
		Addr: vm.WriteAddr(),
		Len:  vm.WriteLength(),
	}))
}

func (s *Server) NotifyWaitComplete(vm *iovm1.VM) {
	_ = s.writeNotify(NotifyWait, encodeWaitComplete(waitCompletePayload{
		PC:     vm.PC(),
		State:  vm.GetState(),
		Result: vm.LatchedError(),
	}))
}
