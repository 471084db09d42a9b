// Command iovmd hosts an iovm1.VM over TCP: it accepts one client
// connection at a time and drives the VM's memory targets against an
// in-process Bank, per the transport package's command/notification
// protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/alttpo/iovm/targets"
	"github.com/alttpo/iovm/transport"
)

func main() {
	app := cli.NewApp()
	app.Name = "iovmd"
	app.Usage = "IOVM1 host daemon"
	app.Description = "Accepts a single client connection and drives an iovm1.VM against in-process memory targets."
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "listen",
			Usage: "address to listen on",
			Value: "127.0.0.1:1219",
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
			fmt.Fprintln(os.Stderr, "iovmd: interrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "iovmd: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	addr := c.String("listen")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	defer ln.Close()

	log.Printf("iovmd: listening on %s", addr)

	go func() {
		<-c.Context.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if c.Context.Err() != nil {
				return nil
			}
			return err
		}

		log.Printf("iovmd: client connected from %s", conn.RemoteAddr())
		serveConn(conn)
	}
}

func serveConn(conn net.Conn) {
	defer conn.Close()

	bank := targets.DefaultBank()
	srv := transport.NewServer(conn, bank)
	if err := srv.Serve(); err != nil {
		log.Printf("iovmd: connection from %s closed: %v", conn.RemoteAddr(), err)
	}
}
