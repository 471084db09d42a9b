package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/alttpo/iovm/frame"
	"github.com/alttpo/iovm/iovm1"
)

// PrgEnd, Read, WriteEvent, and Wait are delivered on the Client's
// notification channels (EndCh, ReadCh, WriteStartCh/WriteEndCh, WaitCh).
type PrgEnd struct {
	PC     uint32
	State  iovm1.State
	Result iovm1.Result
}

type Read struct {
	PC      uint32
	TDU     uint8
	Addr    uint32
	Len     uint32
	Chunk   []byte
	IsFinal bool
}

type WriteEvent struct {
	PC   uint32
	TDU  uint8
	Addr uint32
	Len  uint32
}

type Wait struct {
	PC     uint32
	State  iovm1.State
	Result iovm1.Result
}

// Client drives a remote VM over conn. Exactly one command may be
// in flight at a time; Client serializes callers internally.
type Client struct {
	conn net.Conn
	fr   *frame.Reader

	cmdLock sync.Mutex
	fw      *frame.Writer

	// pending holds the response channel for whichever command is
	// currently awaiting a reply; only one may be outstanding at a time.
	pending   chan []byte
	pendingMu sync.Mutex

	EndCh        chan PrgEnd
	ReadCh       chan Read
	WriteStartCh chan WriteEvent
	WriteEndCh   chan WriteEvent
	WaitCh       chan Wait

	recvErr chan error
}

// NewClient wraps conn and starts its receive loop in the background.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:         conn,
		fr:           frame.NewReader(conn),
		fw:           frame.NewWriter(conn, channelCmd),
		EndCh:        make(chan PrgEnd, 1),
		ReadCh:       make(chan Read, 4),
		WriteStartCh: make(chan WriteEvent, 1),
		WriteEndCh:   make(chan WriteEvent, 1),
		WaitCh:       make(chan Wait, 1),
		recvErr:      make(chan error, 1),
	}
	go c.recvLoop()
	return c
}

func (c *Client) recvLoop() {
	for {
		chn, msg, err := c.fr.ReadMessage()
		if err != nil {
			c.recvErr <- err
			return
		}
		if len(msg) < 1 {
			continue
		}
		switch chn {
		case channelCmd:
			c.deliverResponse(msg)
		case channelNotify:
			c.handleNotify(NotifyType(msg[0]), msg[1:])
		}
	}
}

func (c *Client) deliverResponse(msg []byte) {
	c.pendingMu.Lock()
	ch := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	if ch != nil {
		ch <- msg
	}
}

func (c *Client) handleNotify(nt NotifyType, body []byte) {
	switch nt {
	case NotifyEnd:
		if p, ok := decodePrgEnd(body); ok {
			select {
			case c.EndCh <- PrgEnd(p):
			default:
			}
		}
	case NotifyRead:
		if p, ok := decodeIOStart(body); ok {
			select {
			case c.ReadCh <- Read{PC: p.PC, TDU: p.TDU, Addr: p.Addr, Len: p.Len, Chunk: append([]byte(nil), body[10:]...), IsFinal: true}:
			default:
			}
		}
	case NotifyWriteStart:
		if p, ok := decodeIOStart(body); ok {
			select {
			case c.WriteStartCh <- WriteEvent(p):
			default:
			}
		}
	case NotifyWriteEnd:
		if p, ok := decodeIOStart(body); ok {
			select {
			case c.WriteEndCh <- WriteEvent(p):
			default:
			}
		}
	case NotifyWait:
		if p, ok := decodeWaitComplete(body); ok {
			select {
			case c.WaitCh <- Wait{PC: p.PC, State: p.State, Result: p.Result}:
			default:
			}
		}
	}
}

// sendCmd writes one framed command and blocks until its response frame
// arrives or ctx is done. Commands are serialized: only one may be
// in flight at a time, matching the single-threaded VM it drives.
func (c *Client) sendCmd(ctx context.Context, cmd CommandType, payload []byte) ([]byte, error) {
	c.cmdLock.Lock()
	defer c.cmdLock.Unlock()

	replyCh := make(chan []byte, 1)
	c.pendingMu.Lock()
	c.pending = replyCh
	c.pendingMu.Unlock()

	if _, err := c.fw.Write([]byte{byte(cmd)}); err != nil {
		return nil, err
	}
	if _, err := c.fw.Write(payload); err != nil {
		return nil, err
	}
	if err := c.fw.Close(); err != nil {
		return nil, err
	}

	select {
	case msg := <-replyCh:
		return msg, nil
	case err := <-c.recvErr:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Upload sends a bytecode procedure to be loaded into the remote VM.
func (c *Client) Upload(ctx context.Context, vmprog []byte) error {
	msg, err := c.sendCmd(ctx, CmdUpload, vmprog)
	if err != nil {
		return err
	}
	return parseSimpleResponse(msg)
}

// Start asks the remote VM to run to its next suspension point (a WAIT
// still pending, the program ended, or an error).
func (c *Client) Start(ctx context.Context) error {
	msg, err := c.sendCmd(ctx, CmdStart, nil)
	if err != nil {
		return err
	}
	return parseSimpleResponse(msg)
}

// Stop sends the stop command. The server acknowledges it without changing
// the remote VM's state; the in-flight run is not abandoned.
func (c *Client) Stop(ctx context.Context) error {
	msg, err := c.sendCmd(ctx, CmdStop, nil)
	if err != nil {
		return err
	}
	return parseSimpleResponse(msg)
}

// Reset asks the remote VM to rewind to the start of its loaded procedure.
func (c *Client) Reset(ctx context.Context) error {
	msg, err := c.sendCmd(ctx, CmdReset, nil)
	if err != nil {
		return err
	}
	return parseSimpleResponse(msg)
}

// SetFlags updates the remote VM's notification flags.
func (c *Client) SetFlags(ctx context.Context, flags iovm1.Flags) error {
	msg, err := c.sendCmd(ctx, CmdSetFlags, []byte{flags})
	if err != nil {
		return err
	}
	return parseSimpleResponse(msg)
}

// GetState fetches the remote VM's current lifecycle state.
func (c *Client) GetState(ctx context.Context) (iovm1.State, error) {
	msg, err := c.sendCmd(ctx, CmdGetState, nil)
	if err != nil {
		return 0, err
	}
	if len(msg) < 1+6 {
		return 0, fmt.Errorf("transport: short GetState response")
	}
	body := msg[1:]
	if body[0] != Success {
		return 0, fmt.Errorf("transport command failed: result=%d", body[0])
	}
	return iovm1.State(binary.LittleEndian.Uint32(body[2:6])), nil
}

func parseSimpleResponse(msg []byte) error {
	if len(msg) < 1+2 {
		return fmt.Errorf("transport: short response")
	}
	body := msg[1:]
	if body[0] != Success {
		return fmt.Errorf("transport command failed: result=%d", body[0])
	}
	if vmerr := body[1]; vmerr != iovm1.Success {
		return iovm1.Errors[vmerr]
	}
	return nil
}
