package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ashureev/chatxai/internal/domain"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of a module catalog.
type catalogFile struct {
	Default string            `yaml:"default" toml:"default"`
	Modules []domain.AIModule `yaml:"modules" toml:"modules"`
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) catalog. fallbackDefault
// is used when the file does not name a default module.
func Load(path, fallbackDefault string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module catalog: %w", err)
	}

	var cat catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("parse yaml catalog %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cat); err != nil {
			return nil, fmt.Errorf("parse toml catalog %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", ext)
	}

	def := cat.Default
	if def == "" {
		def = fallbackDefault
	}
	if def == "" && len(cat.Modules) > 0 {
		def = cat.Modules[0].ID
	}

	reg, err := New(cat.Modules, def)
	if err != nil {
		return nil, fmt.Errorf("build catalog from %s: %w", path, err)
	}
	return reg, nil
}

// FromConfig loads the catalog at path, or the built-in one when path is
// empty.
func FromConfig(path, defaultKey string) (*Registry, error) {
	if path == "" {
		return NewBuiltin(defaultKey)
	}
	return Load(path, defaultKey)
}
