package conformance

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadedScenario pairs a scenario with the file it came from.
type LoadedScenario struct {
	File     string
	Suite    string
	Scenario Scenario
}

// LoadAll reads every YAML suite under dir and flattens its scenarios.
func LoadAll(dir string) ([]LoadedScenario, error) {
	var loaded []LoadedScenario

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var suite Suite
		if err := yaml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		for _, sc := range suite.Scenarios {
			loaded = append(loaded, LoadedScenario{
				File:     name,
				Suite:    suite.Name,
				Scenario: sc,
			})
		}
	}

	return loaded, nil
}

// Bytes materializes a binary spec into its payload bytes.
func (b *BinarySpec) Bytes() ([]byte, error) {
	switch {
	case b.Base64 != "":
		return base64.StdEncoding.DecodeString(b.Base64)
	case b.Repeat != nil:
		if b.Repeat.Byte < 0 || b.Repeat.Byte > 255 {
			return nil, fmt.Errorf("repeat byte out of range: %d", b.Repeat.Byte)
		}
		data := make([]byte, b.Repeat.Count)
		for i := range data {
			data[i] = byte(b.Repeat.Byte)
		}
		return data, nil
	}
	return nil, nil
}
