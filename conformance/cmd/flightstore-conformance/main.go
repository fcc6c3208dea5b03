// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command flightstore-conformance runs the conformance scenarios against a
// flight-store endpoint. With --self it starts a throwaway server over a
// temporary directory and tests that instead.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Query-farm/flight-store/conformance"
	"github.com/Query-farm/flight-store/flightstore"
)

func main() {
	addr := pflag.String("addr", "localhost:33000", "address of the server under test")
	self := pflag.Bool("self", false, "start an in-process server over a temporary directory")
	only := pflag.StringSlice("only", nil, "run only these scenarios")
	timeout := pflag.Duration("timeout", 2*time.Minute, "overall time limit")
	logLevel := pflag.String("log-level", "WARN", "log level")
	pflag.Parse()

	level, err := flightstore.ParseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, _ := flightstore.NewLogger(os.Stderr, level, "text")

	if *self {
		dir, err := os.MkdirTemp("", "flightstore-conformance-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		stop, bound, err := startServer(dir, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "starting server: %v\n", err)
			os.Exit(1)
		}
		defer stop()
		*addr = bound
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	client, err := flightstore.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	results := conformance.Run(ctx, client, conformance.Options{Only: *only, Logger: logger})
	for _, r := range results {
		fmt.Println(r)
	}
	failed := conformance.Failed(results)
	fmt.Printf("%d passed, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func startServer(dir string, logger *slog.Logger) (func(), string, error) {
	store, err := flightstore.NewLocalStore(dir)
	if err != nil {
		return nil, "", err
	}
	server := flightstore.NewServer(store, flightstore.WithLogger(logger))
	server.SetServerID("conformance")
	if err := server.Listen("127.0.0.1:0"); err != nil {
		return nil, "", err
	}
	go func() {
		if err := server.Serve(); err != nil {
			logger.Error("server stopped", "err", err)
		}
	}()
	return server.Shutdown, server.Addr().String(), nil
}
