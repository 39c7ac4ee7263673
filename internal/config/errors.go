package config

import (
	"fmt"
)

// ConfigurationError is returned when a configuration source cannot be read or parsed.
type ConfigurationError struct {
	// Source is "file" or "configmap".
	Source string

	// Location is the file path or namespace/name of the ConfigMap.
	Location string

	Message string
	Err     error
}

// Error implements the error interface
func (ce *ConfigurationError) Error() string {
	if ce.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", ce.Source, ce.Location, ce.Message, ce.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", ce.Source, ce.Location, ce.Message)
}

func (ce *ConfigurationError) Unwrap() error {
	return ce.Err
}
