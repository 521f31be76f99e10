// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package comparator

import (
	"github.com/parityqa/parity/services/orchestrator/datatypes"
)

// Discrepancy kinds emitted by the comparator. These strings are part of
// the result contract.
const (
	KindMissingElement    = "missing_element"
	KindAdditionalElement = "additional_element"

	KindFieldRenamed      = "field_renamed"
	KindMissingField      = "missing_field"
	KindAdditionalField   = "additional_field"
	KindTypeMismatch      = "type_mismatch"
	KindTypeWidened       = "type_widened"
	KindRequiredTightened = "required_tightened"
	KindRequiredRelaxed   = "required_relaxed"
	KindMissingConstraint = "missing_constraint"
	KindAddedConstraint   = "added_constraint"

	KindFunctionRenamed    = "function_renamed"
	KindParameterMismatch  = "parameter_mismatch"
	KindReturnTypeMismatch = "return_type_mismatch"
	KindLogicDivergence    = "logic_divergence"

	KindMissingHTTPMethod = "missing_http_method"
	KindExtraHTTPMethod   = "extra_http_method"
	KindHandlerMismatch   = "handler_mismatch"

	KindUIElementRenamed = "ui_element_renamed"
	KindUITextChanged    = "ui_text_changed"
	KindUIKindMismatch   = "ui_kind_mismatch"
	KindAttributeChanged = "attribute_changed"
)

// baseSeverity is the scope-independent severity per change kind.
var baseSeverity = map[string]datatypes.Severity{
	KindMissingElement:    datatypes.SeverityCritical,
	KindAdditionalElement: datatypes.SeverityInfo,

	KindFieldRenamed:      datatypes.SeverityWarning,
	KindMissingField:      datatypes.SeverityCritical,
	KindAdditionalField:   datatypes.SeverityWarning,
	KindTypeMismatch:      datatypes.SeverityCritical,
	KindTypeWidened:       datatypes.SeverityWarning,
	KindRequiredTightened: datatypes.SeverityCritical,
	KindRequiredRelaxed:   datatypes.SeverityWarning,
	KindMissingConstraint: datatypes.SeverityWarning,
	KindAddedConstraint:   datatypes.SeverityInfo,

	KindFunctionRenamed:    datatypes.SeverityWarning,
	KindParameterMismatch:  datatypes.SeverityWarning,
	KindReturnTypeMismatch: datatypes.SeverityCritical,
	KindLogicDivergence:    datatypes.SeverityCritical,

	KindMissingHTTPMethod: datatypes.SeverityCritical,
	KindExtraHTTPMethod:   datatypes.SeverityWarning,
	KindHandlerMismatch:   datatypes.SeverityInfo,

	KindUIElementRenamed: datatypes.SeverityWarning,
	KindUITextChanged:    datatypes.SeverityWarning,
	KindUIKindMismatch:   datatypes.SeverityCritical,
	KindAttributeChanged: datatypes.SeverityInfo,
}

// severityFor resolves the (category, kind, scope) policy table:
// the base kind severity, capped at warning under the UI scope, raised
// to critical for structural losses under data-structure and
// business-rules scopes.
func severityFor(kind string, scope datatypes.Scope) datatypes.Severity {
	sev, ok := baseSeverity[kind]
	if !ok {
		sev = datatypes.SeverityWarning
	}

	switch scope {
	case datatypes.ScopeUI:
		// Nothing is critical under a UI-only validation.
		if sev == datatypes.SeverityCritical {
			sev = datatypes.SeverityWarning
		}
	case datatypes.ScopeDataStructure, datatypes.ScopeBusinessRules:
		switch kind {
		case KindTypeMismatch, KindMissingField, KindMissingElement:
			sev = datatypes.SeverityCritical
		}
	}
	return sev
}
