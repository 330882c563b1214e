// Package config provides configuration loading and validation for the case report service.
// It reads a YAML file, applies COZE_* environment overrides (optionally from a .env file)
// and validates every section before the service starts.
package config
