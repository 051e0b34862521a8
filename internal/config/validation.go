package config

import (
	"fmt"
	"strings"

	"conclave/internal/report"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// InFile converts the errors into a ConfigurationErrorCollection for path.
func (ve ValidationErrors) InFile(path string) ConfigurationErrorCollection {
	var cec ConfigurationErrorCollection
	for _, err := range ve {
		ce := NewConfigurationError(path, "validation", err.Message)
		ce.Field = err.Field
		if err.Value != nil {
			ce.Details = fmt.Sprintf("got %v", err.Value)
		}
		cec.Add(ce)
	}
	return cec
}

// ValidateConfiguration rejects negative sizes and timeouts, and unknown
// report formats.
func ValidateConfiguration(config *ConclaveConfig) error {
	var errs ValidationErrors

	if config.Timeout != nil && *config.Timeout < 0 {
		errs.Add("timeout", "must not be negative", *config.Timeout)
	}
	if config.Concurrency < 0 {
		errs.Add("concurrency", "must not be negative", config.Concurrency)
	}
	if config.Parallelism < 0 {
		errs.Add("parallelism", "must not be negative", config.Parallelism)
	}
	for i, name := range config.Reports.Formats {
		if !report.Format(strings.ToLower(strings.TrimSpace(name))).Valid() {
			errs.Add(fmt.Sprintf("reports.formats[%d]", i), "unknown report format", name)
		}
	}
	for i, expr := range config.Tags {
		if strings.TrimSpace(expr) == "" {
			errs.Add(fmt.Sprintf("tags[%d]", i), "must not be empty")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
