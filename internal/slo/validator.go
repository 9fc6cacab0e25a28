package slo

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:embed schema/objective_v1.json
var schemaJSON []byte

const schemaURL = "https://aegis.dev/schemas/objective_v1.json"

// Validator handles objective file validation
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded objective schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema: %w", err)
	}

	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all objective files in a directory.
// It returns the objectives that passed together with every error found.
func (v *Validator) ValidateDirectory(dirPath string) ([]ObjectiveWithFile, []ValidationError) {
	files, err := discoverYAMLFiles(dirPath)
	if err != nil {
		return nil, []ValidationError{{
			File:    dirPath,
			Message: fmt.Sprintf("failed to read directory: %v", err),
		}}
	}

	var valid []ObjectiveWithFile
	var allErrors []ValidationError
	seen := make(map[string]string)

	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			allErrors = append(allErrors, ValidationError{File: file, Message: err.Error()})
			continue
		}

		objective, fileErrors := v.validateFile(file, data)
		if len(fileErrors) > 0 {
			name := documentName(data)
			for i := range fileErrors {
				fileErrors[i].Name = name
			}
			allErrors = append(allErrors, fileErrors...)
			continue
		}

		if prevFile, exists := seen[objective.Name]; exists {
			allErrors = append(allErrors, ValidationError{
				File:    file,
				Name:    objective.Name,
				Path:    "metadata.name",
				Message: fmt.Sprintf("duplicate name %q (also in %s)", objective.Name, filepath.Base(prevFile)),
			})
			continue
		}
		seen[objective.Name] = file

		valid = append(valid, ObjectiveWithFile{Objective: objective, File: file})
	}

	return valid, allErrors
}

// validateFile checks a single document against the schema and the objective
// rules.
func (v *Validator) validateFile(file string, data []byte) (Objective, []ValidationError) {
	if schemaErrors := v.validateSchema(file, data); len(schemaErrors) > 0 {
		return Objective{}, schemaErrors
	}

	objective, err := Parse(data)
	if err != nil {
		return Objective{}, []ValidationError{{File: file, Message: err.Error()}}
	}

	if err := objective.Validate(); err != nil {
		return Objective{}, []ValidationError{{File: file, Path: "spec", Message: err.Error()}}
	}
	return objective, nil
}

// validateSchema validates a single document against the JSON schema
func (v *Validator) validateSchema(file string, data []byte) []ValidationError {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []ValidationError{{File: file, Message: fmt.Sprintf("failed to parse YAML: %v", err)}}
	}

	// Round trip through encoding/json so the validator sees JSON types only.
	raw, err := json.Marshal(doc)
	if err != nil {
		return []ValidationError{{File: file, Message: fmt.Sprintf("failed to convert to JSON: %v", err)}}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []ValidationError{{File: file, Message: fmt.Sprintf("failed to convert to JSON: %v", err)}}
	}

	err = v.schema.Validate(inst)
	if err == nil {
		return nil
	}
	var validationErr *jsonschema.ValidationError
	if errors.As(err, &validationErr) {
		return extractSchemaErrors(file, validationErr)
	}
	return []ValidationError{{File: file, Message: err.Error()}}
}

// extractSchemaErrors flattens JSON schema validation errors, keeping the leaves
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) == 0 {
		path := strings.Join(err.InstanceLocation, ".")
		if path == "" {
			path = "(root)"
		}
		return []ValidationError{{File: file, Path: path, Message: err.Error()}}
	}

	var errors []ValidationError
	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}
	return errors
}
