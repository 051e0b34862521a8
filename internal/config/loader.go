package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"conclave/pkg/logging"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from path on top of the defaults.
// A missing file yields the defaults unless mustExist is set.
func LoadConfig(path string, mustExist bool) (ConclaveConfig, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !mustExist {
			logging.Debug("ConfigLoader", "No %s found, using defaults", path)
			return config, nil
		}
		return ConclaveConfig{}, NewConfigurationError(path, "io", err.Error())
	}

	if err := decode(data, &config); err != nil {
		return ConclaveConfig{}, parseError(path, err)
	}
	if err := ValidateConfiguration(&config); err != nil {
		var errs ValidationErrors
		if errors.As(err, &errs) {
			return ConclaveConfig{}, errs.InFile(path)
		}
		return ConclaveConfig{}, err
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return config, nil
}

// decode rejects unknown keys so that typos do not silently fall back to defaults.
func decode(data []byte, config *ConclaveConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseError(path string, err error) ConfigurationError {
	ce := NewConfigurationError(path, "parse", "malformed YAML")
	ce.Details = err.Error()

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		ce.Details = typeErr.Errors[0]
		ce.LineNumber = lineOf(typeErr.Errors[0])
	}
	ce.Suggestions = []string{
		fmt.Sprintf("Check %s against the documented keys", filepath.Base(path)),
		"Durations use Go syntax, e.g. 90s or 5m",
	}
	return ce
}

func lineOf(msg string) int {
	var line int
	if _, err := fmt.Sscanf(msg, "line %d:", &line); err != nil {
		return 0
	}
	return line
}
