package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/grovetools/cosync/errors"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configNames are the file names probed in each directory, in priority order.
var configNames = []string{"cosync.yml", "cosync.yaml", "cosync.toml"}

// FindConfigFile walks up from startDir looking for a cosync config file.
func FindConfigFile(startDir string) (string, error) {
	dir := startDir
	for {
		for _, name := range configNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.ConfigNotFound(startDir)
		}
		dir = parent
	}
}

// Load reads and parses the config file at path, applying defaults and
// validating the result. YAML and TOML are both accepted, chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigNotFound, "failed to read config file")
	}

	// Parse twice: once into a generic document for schema validation (so
	// unknown keys are caught before the struct unmarshal drops them), once
	// into the typed Config.
	var cfg Config
	var raw map[string]interface{}
	if strings.HasSuffix(path, ".toml") {
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML config")
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML config")
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML config")
		}
	}

	validator, err := NewValidator()
	if err == nil {
		if err := validator.Validate(raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "config failed schema validation")
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigValidation, "invalid config value")
	}

	return &cfg, nil
}

// LoadDefault loads the config found by walking up from the current
// directory, or returns the built-in defaults when no file exists.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Default(), nil
	}
	path, err := FindConfigFile(cwd)
	if err != nil {
		return Default(), nil
	}
	return Load(path)
}
