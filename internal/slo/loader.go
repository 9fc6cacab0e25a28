package slo

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// APIVersion and FileKind identify objective documents.
const (
	APIVersion = "aegis.dev/v1"
	FileKind   = "Objective"
)

// discoverYAMLFiles finds all *.yaml and *.yml files in a directory
func discoverYAMLFiles(dirPath string) ([]string, error) {
	var files []string

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})

	return files, err
}

// Parse decodes an objective document. The raw document is kept as the
// objective's Config.
func Parse(data []byte) (Objective, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Objective{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if file.APIVersion != APIVersion {
		return Objective{}, fmt.Errorf("apiVersion: expected %q, got %q", APIVersion, file.APIVersion)
	}
	if file.Kind != FileKind {
		return Objective{}, fmt.Errorf("kind: expected %q, got %q", FileKind, file.Kind)
	}

	window, err := ParseDuration(file.Spec.Window)
	if err != nil {
		return Objective{}, fmt.Errorf("spec.window: %w", err)
	}

	return Objective{
		Name:        file.Metadata.Name,
		Namespace:   file.Metadata.Namespace,
		Description: file.Metadata.Description,
		Target:      file.Spec.Target,
		Window:      window,
		Config:      string(data),
		Indicator:   file.Spec.Indicator,
	}, nil
}

// documentName reads metadata.name alone, so a file that fails validation can
// still be attributed to the objective it declares. It returns "" when even
// that much can not be decoded.
func documentName(data []byte) string {
	var doc struct {
		Metadata struct {
			Name string `yaml:"name"`
		} `yaml:"metadata"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc.Metadata.Name
}
