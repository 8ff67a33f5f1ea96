// Command echosvc is a demo service: it registers with the broker, keeps
// its lease alive with heartbeats, and echoes every byte it receives on
// the assigned port.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"netsel/client"
	"netsel/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "echosvc:", err)
		os.Exit(1)
	}
}

func run() error {
	broker := flag.String("broker", "127.0.0.1:9000", "broker registration address")
	name := flag.String("name", "echosvc", "service name to register")
	interval := flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(*logLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(*broker, *name, client.WithLogger(log))
	ip, port, err := c.Register(ctx)
	if err != nil {
		return fmt.Errorf("register with broker: %w", err)
	}
	log.Info("registered",
		zap.String("service", *name),
		zap.String("virtual_ip", ip.String()),
		zap.Int("port", port))

	go c.RunHeartbeats(ctx, *interval)

	// The broker proxies to localhost at the assigned port, so that is
	// where the echo listener binds.
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("bind echo listener: %w", err)
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.Info("echo listener ready", zap.String("addr", listener.Addr().String()))
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("accept failed", zap.Error(err))
			continue
		}
		go func(c net.Conn) {
			defer c.Close()
			io.Copy(c, c)
		}(conn)
	}
}
