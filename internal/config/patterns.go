// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Patterns holds the operator-tunable vocabularies of the redaction and
// condensing layers. Empty lists mean "use the compiled-in defaults" of the
// consuming package; a YAML file only needs to name the lists it overrides.
type Patterns struct {
	// BiasTerms are word-boundary matched terms replaced by the redactor's
	// bias placeholder.
	BiasTerms []string `yaml:"bias_terms"`
	// FillerPhrases are boilerplate recruiting phrases stripped by the
	// condenser (matched case-insensitively as substrings).
	FillerPhrases []string `yaml:"filler_phrases"`
	// FillerWords are low-signal words the condenser removes outside of
	// readability-preserving positions.
	FillerWords []string `yaml:"filler_words"`
}

// LoadPatterns reads the optional overrides file. An empty path returns the
// zero value (all defaults); a named but unreadable or malformed file is an
// error so misconfiguration never silently weakens redaction.
func LoadPatterns(path string) (Patterns, error) {
	var p Patterns
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Patterns{}, fmt.Errorf("op=config.LoadPatterns path=%s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Patterns{}, fmt.Errorf("op=config.LoadPatterns path=%s: %w", path, err)
	}
	return p, nil
}
