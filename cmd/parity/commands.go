// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL   string
	authToken   string
	sourceDir   string
	targetDir   string
	scope       string
	sourceTech  string
	targetTech  string
	priority    string
	sourceURL   string
	targetURL   string
	scenarios   string
	username    string
	passwordEnv string
	outputForm  string
	noWait      bool
	serveHost   string
	servePort   string

	rootCmd = &cobra.Command{
		Use:   "parity",
		Short: "Validate migrated applications against their originals",
		Long: `Parity compares a migrated application against its original:
static analysis of both code bases, semantic comparison, optional
behavioral probing of live deployments, and a unified fidelity verdict.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if authToken == "" {
				authToken = os.Getenv("PARITY_TOKEN")
			}
		},
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Submit source and target bundles for static validation",
		RunE:  runValidate, // Defined in cmd_validate.go
	}

	behavioralCmd = &cobra.Command{
		Use:   "behavioral",
		Short: "Probe two live deployments with scripted scenarios",
		RunE:  runBehavioral, // Defined in cmd_behavioral.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the validation orchestrator",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check the health of a running orchestrator",
		RunE:  runHealth, // Defined in cmd_health.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:12210",
		"Base URL of the orchestrator")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "",
		"Bearer token (defaults to PARITY_TOKEN)")

	validateCmd.Flags().StringVar(&sourceDir, "source", "", "Source code directory (required)")
	validateCmd.Flags().StringVar(&targetDir, "target", "", "Target code directory (required)")
	validateCmd.Flags().StringVar(&scope, "scope", "full", "Validation scope")
	validateCmd.Flags().StringVar(&sourceTech, "source-tech", "", "Source technology (required)")
	validateCmd.Flags().StringVar(&targetTech, "target-tech", "", "Target technology (required)")
	validateCmd.Flags().StringVar(&priority, "priority", "", "Queue priority (interactive or batch)")
	validateCmd.Flags().StringVar(&outputForm, "output", "md", "Report format: json, html, or md")
	validateCmd.Flags().BoolVar(&noWait, "no-wait", false, "Submit and print the request id without waiting")
	_ = validateCmd.MarkFlagRequired("source")
	_ = validateCmd.MarkFlagRequired("target")
	_ = validateCmd.MarkFlagRequired("source-tech")
	_ = validateCmd.MarkFlagRequired("target-tech")

	behavioralCmd.Flags().StringVar(&sourceURL, "source-url", "", "Original deployment URL (required)")
	behavioralCmd.Flags().StringVar(&targetURL, "target-url", "", "Migrated deployment URL (required)")
	behavioralCmd.Flags().StringVar(&scenarios, "scenarios", "", "Path to a JSON scenario file (required)")
	behavioralCmd.Flags().StringVar(&username, "username", "", "Login username for probed systems")
	behavioralCmd.Flags().StringVar(&passwordEnv, "password-env", "",
		"Name of the environment variable holding the login password")
	behavioralCmd.Flags().StringVar(&outputForm, "output", "md", "Report format: json, html, or md")
	behavioralCmd.Flags().BoolVar(&noWait, "no-wait", false, "Submit and print the request id without waiting")
	_ = behavioralCmd.MarkFlagRequired("source-url")
	_ = behavioralCmd.MarkFlagRequired("target-url")
	_ = behavioralCmd.MarkFlagRequired("scenarios")

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides ORCHESTRATOR_HOST)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (overrides ORCHESTRATOR_PORT)")

	rootCmd.AddCommand(validateCmd, behavioralCmd, serveCmd, healthCmd)
}
