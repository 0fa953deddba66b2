// Package config loads and validates the autosynth configuration file.
//
// Configuration is YAML. Every field has a sensible default so the tool
// runs without a file at all; a file only overrides what it names. The
// loaded configuration is validated before use and invalid files are
// rejected with a field-level error.
package config
