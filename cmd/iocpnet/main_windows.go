//go:build windows

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/iocpnet/internal/iocp"
	"github.com/marmos91/iocpnet/internal/logger"
	"github.com/marmos91/iocpnet/internal/ratelimiter"
	"github.com/marmos91/iocpnet/internal/server"
	"github.com/marmos91/iocpnet/pkg/config"
	"github.com/marmos91/iocpnet/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (empty uses the default location)")
	port := flag.Uint("port", 0, "Override the configured listening port")
	logLevel := flag.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Server.Port = uint16(*port)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *printConfig {
		rendered, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(rendered)
		return
	}

	logger.SetLevel(cfg.Logging.Level)

	fmt.Println("========================================")
	fmt.Println("iocpnet - completion-port TCP server")
	fmt.Println("========================================")

	handler, err := server.NewHandler(cfg.Handler.Type, cfg.Handler.Echo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build handler: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Port:            cfg.Server.Port,
		Workers:         cfg.Server.Workers,
		BufferSize:      cfg.Server.BufferSize,
		MaxPendingSends: cfg.Limits.MaxPendingSends,
	}, handler)

	if cfg.Limits.AcceptRate > 0 {
		srv.SetRateLimiter(ratelimiter.New(cfg.Limits.AcceptRate, cfg.Limits.AcceptBurst))
		logger.Info("Accept rate limited to %d/s (burst %d)", cfg.Limits.AcceptRate, cfg.Limits.AcceptBurst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		srv.SetMetrics(metrics.NewServerMetrics(func() float64 {
			return float64(iocp.InFlight())
		}))

		metricsServer = metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port})
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				logger.Error("Metrics server: %v", err)
			}
		}()
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Listening on port %d. Press Enter (or Ctrl+C) to shut down.\n", cfg.Server.Port)

	// Shut down on either a line from stdin or a termination signal.
	stdinDone := make(chan struct{})
	go func() {
		reader := bufio.NewReader(os.Stdin)
		_, _ = reader.ReadString('\n')
		close(stdinDone)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stdinDone:
		logger.Info("Shutdown requested from stdin")
	case s := <-sig:
		logger.Info("Received signal %v", s)
	}

	srv.Stop()
	cancel()

	fmt.Println("Server shut down cleanly")
}
