// Frontline - Strategy Game World Event Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/frontline

package validation

import (
	"strings"
	"testing"
)

type reportQuery struct {
	GameID  int64  `validate:"min=1"`
	Type    string `validate:"report_type"`
	Faction string `validate:"faction"`
	Window  int64  `validate:"min=1000,max=86400000"`
}

func TestGetValidatorSingleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("expected the same validator instance")
	}
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name      string
		input     reportQuery
		wantField string
	}{
		{"valid", reportQuery{GameID: 5, Type: "apm", Faction: "RED", Window: 60000}, ""},
		{"empty faction allowed", reportQuery{GameID: 5, Type: "heatmap", Window: 60000}, ""},
		{"bad game", reportQuery{GameID: 0, Type: "apm", Window: 60000}, "reportQuery.GameID"},
		{"bad type", reportQuery{GameID: 1, Type: "kills", Window: 60000}, "reportQuery.Type"},
		{"bad faction", reportQuery{GameID: 1, Type: "apm", Faction: "PURPLE", Window: 60000}, "reportQuery.Faction"},
		{"short window", reportQuery{GameID: 1, Type: "apm", Window: 10}, "reportQuery.Window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&tt.input)
			if tt.wantField == "" {
				if verr != nil {
					t.Fatalf("unexpected error: %v", verr)
				}
				return
			}
			if verr == nil {
				t.Fatal("expected validation error")
			}
			if len(verr.Fields) != 1 || verr.Fields[0].Field != tt.wantField {
				t.Errorf("expected failure on %s, got %+v", tt.wantField, verr.Fields)
			}
		})
	}
}

func TestErrorMessageJoinsFields(t *testing.T) {
	verr := ValidateStruct(&reportQuery{Type: "nope", Window: 1})
	if verr == nil {
		t.Fatal("expected error")
	}
	msg := verr.Error()
	if !strings.Contains(msg, "reportQuery.GameID must be at least 1") {
		t.Errorf("unexpected message %q", msg)
	}
	if strings.Count(msg, ";") != 2 {
		t.Errorf("expected three joined messages, got %q", msg)
	}
}
