package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigBaseName is the base name of the configuration file without extension.
const ConfigBaseName = "xexd"

// ConfigExtension is the configuration file extension without the leading dot.
const ConfigExtension = "yaml"

// ConfigFileName is the filename of the executor configuration file.
const ConfigFileName = ConfigBaseName + "." + ConfigExtension

// WriteYaml writes the configuration to <RootDir>/xexd.yaml, creating the
// root directory if needed. Used by the init command.
func (c Config) WriteYaml() error {
	if c.RootDir == "" {
		return fmt.Errorf("root directory not set")
	}
	if err := os.MkdirAll(c.RootDir, DefaultDirPerm); err != nil {
		return fmt.Errorf("creating root directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	path := filepath.Join(c.RootDir, ConfigFileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
