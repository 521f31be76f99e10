// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

func runBehavioral(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(scenarios)
	if err != nil {
		return exitErr(exitBadInput, "read scenario file: %v", err)
	}
	var scenarioList []datatypes.Scenario
	if err := json.Unmarshal(raw, &scenarioList); err != nil {
		return exitErr(exitBadInput, "parse scenario file: %v", err)
	}
	if len(scenarioList) == 0 {
		return exitErr(exitBadInput, "%s contains no scenarios", scenarios)
	}

	body := map[string]any{
		"source_url": sourceURL,
		"target_url": targetURL,
		"scenarios":  scenarioList,
	}
	if username != "" {
		if passwordEnv == "" {
			return exitErr(exitBadInput, "--username requires --password-env")
		}
		password := os.Getenv(passwordEnv)
		if password == "" {
			return exitErr(exitBadInput, "environment variable %s is empty", passwordEnv)
		}
		body["credentials"] = map[string]string{
			"username": username,
			"password": password,
		}
	}

	client := newClient()
	requestID, err := client.submitJSON("/api/behavioral/validate", body)
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
