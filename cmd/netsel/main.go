// Command netsel runs the service broker: registration endpoint, expiry
// sweeper, TCP/HTTP proxies, DNS resolver and admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"netsel/config"
	"netsel/logging"
	"netsel/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "netsel:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	broker, err := server.NewBroker(cfg, log)
	if err != nil {
		return err
	}
	if err := broker.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("broker starting",
		zap.String("registry", cfg.Registry.ListenAddr),
		zap.String("tcp_proxy", cfg.Proxy.TCPListenAddr),
		zap.String("http_proxy", cfg.Proxy.HTTPListenAddr),
		zap.String("dns", cfg.DNS.ListenAddr),
		zap.String("admin", cfg.Admin.ListenAddr))

	return broker.Run(ctx)
}
