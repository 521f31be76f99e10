// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package behavioral

import (
	"strings"

	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// LoginSteps is the canonical login flow: open the login page, fill the
// credential fields from placeholders, submit, and assert the page
// reacted.
func LoginSteps(loginPath string) []datatypes.ScenarioStep {
	if loginPath == "" {
		loginPath = "/login"
	}
	return []datatypes.ScenarioStep{
		{Action: "navigate", Input: loginPath},
		{Action: "fill", Selector: `input[name="username"], input[type="email"], #username`, Input: PlaceholderUsername},
		{Action: "fill", Selector: `input[name="password"], input[type="password"], #password`, Input: PlaceholderPassword},
		{Action: "submit"},
		{Action: "assert", Selector: "body"},
	}
}

// FormSubmissionSteps fills each selector/value pair in order and
// submits the form at formPath.
func FormSubmissionSteps(formPath string, fields map[string]string) []datatypes.ScenarioStep {
	steps := []datatypes.ScenarioStep{{Action: "navigate", Input: formPath}}
	// Map order is unstable; callers needing strict ordering pass
	// explicit steps instead.
	for selector, value := range fields {
		steps = append(steps, datatypes.ScenarioStep{Action: "fill", Selector: selector, Input: value})
	}
	steps = append(steps,
		datatypes.ScenarioStep{Action: "submit"},
		datatypes.ScenarioStep{Action: "assert", Selector: "body"},
	)
	return steps
}

// DeriveSteps builds a step sequence for a scenario that supplied none,
// keyed off its name and description.
func DeriveSteps(scenario datatypes.Scenario) []datatypes.ScenarioStep {
	hint := strings.ToLower(scenario.Name + " " + scenario.Description)
	switch {
	case strings.Contains(hint, "login") || strings.Contains(hint, "sign in") || strings.Contains(hint, "auth"):
		return LoginSteps("")
	default:
		// Smoke walk: load the root page and confirm it rendered.
		return []datatypes.ScenarioStep{
			{Action: "navigate"},
			{Action: "assert", Selector: "body"},
		}
	}
}
