package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Default returns the embedded GW170817 run description, normalized.
func Default() (*Manifest, error) {
	m, err := Load(defaultYAML, ".yaml")
	if err != nil {
		return nil, fmt.Errorf("embedded default manifest: %w", err)
	}
	return m, nil
}

// LoadFromPath reads a manifest file (YAML or JSON), parses it, and
// normalizes it. Format is detected by extension (.yaml/.yml/.json) or,
// failing that, by content.
func LoadFromPath(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Load(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Load parses and normalizes a manifest from bytes. ext is the file
// extension used as a format hint; empty means detect from content
// (a leading '{' is treated as JSON).
func Load(data []byte, ext string) (*Manifest, error) {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext != ".yaml" && ext != ".json" {
		if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
			ext = ".json"
		} else {
			ext = ".yaml"
		}
	}

	var m Manifest
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := m.Normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}
