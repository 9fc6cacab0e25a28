package slo

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidator_ValidateDirectory_ValidFiles(t *testing.T) {
	validator := mustNewValidator(t)

	objectives, errors := validator.ValidateDirectory("testdata/valid")

	if len(errors) != 0 {
		t.Errorf("expected no errors, got %d:", len(errors))
		for _, err := range errors {
			t.Logf("  %v", err)
		}
	}

	if len(objectives) != 3 {
		t.Fatalf("expected 3 objectives, got %d", len(objectives))
	}

	byName := make(map[string]Objective)
	for _, o := range objectives {
		byName[o.Objective.Name] = o.Objective
	}

	checkout, ok := byName["checkout-availability"]
	if !ok {
		t.Fatal("checkout-availability not loaded")
	}
	if checkout.Namespace != "shop" {
		t.Errorf("expected namespace shop, got %s", checkout.Namespace)
	}
	if checkout.Window != 28*24*time.Hour {
		t.Errorf("expected 28d window, got %s", checkout.Window)
	}
	if checkout.Indicator.Kind() != KindRatio {
		t.Errorf("expected ratio indicator, got %q", checkout.Indicator.Kind())
	}
	if !strings.Contains(checkout.Config, "kind: Objective") {
		t.Errorf("expected raw config to be kept, got %q", checkout.Config)
	}

	latency := byName["search-latency"]
	if latency.Indicator.Latency == nil || latency.Indicator.Latency.Threshold != 0.3 {
		t.Errorf("unexpected latency indicator: %+v", latency.Indicator.Latency)
	}
}

func TestValidator_ValidateDirectory_InvalidFiles(t *testing.T) {
	validator := mustNewValidator(t)

	objectives, errors := validator.ValidateDirectory("testdata/invalid")

	if len(errors) == 0 {
		t.Fatal("expected validation errors, got none")
	}

	// duplicate-a.yaml is the only file that passes on its own
	if len(objectives) != 1 || objectives[0].Objective.Name != "dup-objective" {
		t.Errorf("expected only dup-objective to pass, got %v", objectives)
	}

	errorsByFile := make(map[string][]ValidationError)
	for _, err := range errors {
		base := filepath.Base(err.File)
		errorsByFile[base] = append(errorsByFile[base], err)
	}

	for _, file := range []string{"missing-fields.yaml", "target-out-of-range.yaml", "two-indicators.yaml", "duplicate-b.yaml"} {
		if len(errorsByFile[file]) == 0 {
			t.Errorf("expected errors for %s", file)
		}
	}

	hasTargetError := false
	for _, err := range errorsByFile["missing-fields.yaml"] {
		if strings.Contains(err.Message, "target") || strings.Contains(err.Path, "target") {
			hasTargetError = true
		}
	}
	if !hasTargetError {
		t.Errorf("expected error about missing target, got %v", errorsByFile["missing-fields.yaml"])
	}

	hasDuplicate := false
	for _, err := range errorsByFile["duplicate-b.yaml"] {
		if strings.Contains(err.Message, "duplicate") {
			hasDuplicate = true
		}
	}
	if !hasDuplicate {
		t.Error("expected error about duplicate names")
	}
}

func TestValidator_MissingDirectory(t *testing.T) {
	validator := mustNewValidator(t)

	_, errors := validator.ValidateDirectory("testdata/does-not-exist")
	if len(errors) != 1 {
		t.Fatalf("expected one error, got %v", errors)
	}
}

func TestParse_InvalidWindow(t *testing.T) {
	_, err := Parse([]byte("apiVersion: aegis.dev/v1\nkind: Objective\nmetadata:\n  name: x\nspec:\n  target: 0.9\n  window: soon\n"))
	if err == nil {
		t.Fatal("expected error for invalid window")
	}
	if !strings.Contains(err.Error(), "spec.window") {
		t.Errorf("expected error about spec.window, got %v", err)
	}
}

func TestParse_DocumentType(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing apiVersion", "kind: Objective\nspec:\n  window: 7d\n", "apiVersion"},
		{"wrong apiVersion", "apiVersion: aegis.dev/v2\nkind: Objective\nspec:\n  window: 7d\n", "apiVersion"},
		{"wrong kind", "apiVersion: aegis.dev/v1\nkind: Alert\nspec:\n  window: 7d\n", "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil || !strings.HasPrefix(err.Error(), tt.want) {
				t.Errorf("expected %s error, got %v", tt.want, err)
			}
		})
	}
}

func TestValidator_ErrorsCarryDeclaredName(t *testing.T) {
	validator := mustNewValidator(t)

	_, errors := validator.ValidateDirectory("testdata/invalid")

	names := make(map[string]string)
	for _, err := range errors {
		names[filepath.Base(err.File)] = err.Name
	}
	if names["target-out-of-range.yaml"] != "too-ambitious" {
		t.Errorf("expected target-out-of-range.yaml to be attributed to too-ambitious, got %q", names["target-out-of-range.yaml"])
	}
}

func mustNewValidator(t *testing.T) *Validator {
	t.Helper()
	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return validator
}
