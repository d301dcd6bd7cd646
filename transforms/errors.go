package transforms

import "fmt"

// ConfigError reports a transform name that cannot be used as configured.
// It surfaces at pipeline-build time, before any training begins.
type ConfigError struct {
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transform %q: %s", e.Name, e.Reason)
}

func errUnknownTransform(name string) *ConfigError {
	return &ConfigError{Name: name, Reason: "not a registered transform"}
}

func errNotDictionary(name string) *ConfigError {
	return &ConfigError{Name: name, Reason: "is not a dictionary transform"}
}
