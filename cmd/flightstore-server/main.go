// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command flightstore-server serves a directory of Parquet datasets over
// Arrow Flight, with an optional read-only HTTP gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/Query-farm/flight-store/config"
	"github.com/Query-farm/flight-store/flightstore"
	fsotel "github.com/Query-farm/flight-store/flightstore/otel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flightstore-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("flightstore-server", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to a YAML, TOML or JSON config file")
	config.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := flightstore.ParseLogLevel(cfg.LogLevel)
	logger, err := flightstore.NewLogger(os.Stderr, level, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	root, err := cfg.AbsRoot()
	if err != nil {
		return err
	}
	store, err := flightstore.NewLocalStore(root)
	if err != nil {
		return err
	}

	codec := flightstore.DefaultCodecOptions()
	codec.Compression, _ = flightstore.ParseCompression(cfg.Compression)

	server := flightstore.NewServer(store, flightstore.WithLogger(logger), flightstore.WithCodec(codec))
	serverID := cfg.ServerID
	if serverID == "" {
		serverID = uuid.NewString()[:8]
	}
	server.SetServerID(serverID)
	if cfg.Advertise != "" {
		server.SetLocation(cfg.Advertise)
	}

	shutdownOtel := func(context.Context) error { return nil }
	if cfg.OtelStdout {
		shutdownOtel, err = fsotel.SetupStdout(os.Stdout, 30*time.Second)
		if err != nil {
			return fmt.Errorf("setting up telemetry: %w", err)
		}
		fsotel.InstrumentServer(server, fsotel.DefaultConfig())
	}

	if err := server.Listen(cfg.Listen); err != nil {
		return err
	}

	var httpSrv *http.Server
	if cfg.HTTPListen != "" {
		gateway := flightstore.NewHttpServerWithPrefix(server, cfg.HTTPPrefix)
		gateway.SetCompressionLevel(cfg.HTTPCompressionLevel)
		httpSrv = &http.Server{
			Addr:              cfg.HTTPListen,
			Handler:           gateway,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http gateway listening", "addr", cfg.HTTPListen, "prefix", gateway.Prefix())
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http gateway stopped", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		if httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = httpSrv.Shutdown(ctx)
			cancel()
		}
		server.Shutdown()
	}()

	logger.Info("serving datasets", "root", root, "compression", cfg.Compression)
	serveErr := server.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownOtel(ctx); err != nil {
		logger.Warn("flushing telemetry", "err", err)
	}
	return serveErr
}
