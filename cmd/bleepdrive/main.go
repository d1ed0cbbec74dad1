// Package main is the entry point for the BleepDrive HTTP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bleepstore/bleepdrive/internal/config"
	"github.com/bleepstore/bleepdrive/internal/drive"
	"github.com/bleepstore/bleepdrive/internal/logging"
	"github.com/bleepstore/bleepdrive/internal/metrics"
	"github.com/bleepstore/bleepdrive/internal/server"
)

func main() {
	configPath := flag.String("config", "bleepdrive.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 9100)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	writable := flag.Bool("writable", false, "enable PUT and DELETE on /files")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *writable {
		cfg.Server.Writable = true
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	mgr, err := drive.New(context.Background(), cfg.Drive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize disks: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()
	slog.Info("Disks initialized", "disks", mgr.Names(), "default", mgr.DefaultName())

	srv, err := server.New(cfg, mgr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("BleepDrive listening", "addr", addr, "writable", cfg.Server.Writable)
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			mgr.Close()
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
