package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = "# wifikey host configuration\n\n"

// Template renders the default configuration file.
func Template() (string, error) {
	return Render(Default())
}

// Render renders cfg in file form.
func Render(cfg Config) (string, error) {
	data, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return "", fmt.Errorf("render wifikey config: %w", err)
	}
	return templateHeader + string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
