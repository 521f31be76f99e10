// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parityqa/parity/pkg/logging"
	"github.com/parityqa/parity/services/orchestrator"
)

func runServe(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = logging.LevelDebug
	}
	log := logging.New(logging.Config{
		Level:   level,
		Service: "orchestrator",
		LogDir:  os.Getenv("LOG_DIR"),
		JSON:    true,
	})
	defer log.Close()

	logger := log.Slog()
	slog.SetDefault(logger)

	cleanup, err := orchestrator.InitTracer("parity-orchestrator")
	if err != nil {
		return exitErr(exitTransport, "setup OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	cfg := orchestrator.ConfigFromEnv()
	if serveHost != "" {
		cfg.Host = serveHost
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	server, err := orchestrator.NewServer(cfg, logger)
	if err != nil {
		return exitErr(exitTransport, "build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx); err != nil {
		return exitErr(exitTransport, "serve: %v", err)
	}
	return nil
}
