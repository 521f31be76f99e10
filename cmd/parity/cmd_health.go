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
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()
	req, err := http.NewRequest(http.MethodGet, client.baseURL+"/health", nil)
	if err != nil {
		return exitErr(exitTransport, "build request: %v", err)
	}
	resp, err := client.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Println(string(body))
	}

	if resp.StatusCode != http.StatusOK {
		return exitErr(exitTransport, "orchestrator degraded (%d)", resp.StatusCode)
	}
	return nil
}
