// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runValidate(cmd *cobra.Command, args []string) error {
	for _, dir := range []string{sourceDir, targetDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return exitErr(exitBadInput, "%s is not a readable directory", dir)
		}
	}

	config := map[string]any{
		"scope":             scope,
		"source_technology": map[string]string{"name": sourceTech},
		"target_technology": map[string]string{"name": targetTech},
	}
	if priority != "" {
		config["priority"] = priority
	}

	client := newClient()
	requestID, err := client.submitMultipart(config, sourceDir, targetDir)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "accepted:", requestID)

	if noWait {
		fmt.Println(requestID)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := client.awaitTerminal(ctx, requestID); err != nil {
		return err
	}
	return client.finish(requestID)
}
