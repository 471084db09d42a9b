// Command iovmctl is a thin client for iovmd: it uploads a bytecode
// procedure (read from a file, or a tiny built-in smoke-test program),
// issues a single Start, and prints the program-end notification. A run
// still suspended after that one step is not resumed; iovmctl then waits
// until its timeout.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alttpo/iovm/iovm1"
	"github.com/alttpo/iovm/transport"
)

func main() {
	app := cli.NewApp()
	app.Name = "iovmctl"
	app.Usage = "IOVM1 client"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "connect",
			Usage: "iovmd address to connect to",
			Value: "127.0.0.1:1219",
		},
		&cli.StringFlag{
			Name:  "prog",
			Usage: "path to a raw bytecode procedure file; if omitted, a built-in smoke-test program runs",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "overall deadline for the run",
			Value: 10 * time.Second,
		},
	}
	app.Action = run

	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		if errors.Is(err, ctx.Err()) {
			fmt.Fprintln(os.Stderr, "iovmctl: interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "iovmctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cc *cli.Context) error {
	ctx, cancel := context.WithTimeout(cc.Context, cc.Duration("timeout"))
	defer cancel()

	addr := cc.String("connect")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	client := transport.NewClient(conn)

	prog := smokeTestProgram()
	if path := cc.String("prog"); path != "" {
		prog, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}

	fmt.Printf("uploading %d bytes:\n%s", len(prog), hex.Dump(prog))
	if err := client.Upload(ctx, prog); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	select {
	case end := <-client.EndCh:
		fmt.Printf("program ended: pc=0x%04x state=%d result=%d\n", end.PC, end.State, end.Result)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// smokeTestProgram configures channel 0 for a small WRAM read and channel
// 3 for a reversed write to the $2C00 NMI trigger, the same shape as the
// reference client's own end-to-end example.
func smokeTestProgram() []byte {
	return iovm1.NewBuilder().
		SetTarget(0, iovm1.TARGET_WRAM, 0).
		SetAddr(0, 0x10).
		SetLength(0, 0xF0).
		SetCompareMask(3, 0x00, 0xFF).
		SetTarget(3, iovm1.TARGET_2C00, iovm1.TARGETFLAG_REVERSE).
		SetAddr(3, 0x00).
		SetLength(3, 6).
		Write(3, []byte{0x9C, 0x00, 0x2C, 0x6C, 0xEA, 0xFF}).
		WaitWhile(3, iovm1.CMP_NEQ, false).
		Read(0).
		End().
		Bytes()
}
