package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors so callers can see
// every problem in one pass.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateRoots(cfg, ve)
	validateSandbox(cfg, ve)
	validateNetwork(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateRoots(cfg *Config, ve *ValidationError) {
	if cfg.ExtensionsRoot == "" {
		ve.Add("extensions_root must not be empty")
	}
	if cfg.WorkspaceRoot == "" {
		ve.Add("workspace_root must not be empty")
	}
	if cfg.StorageRoot == "" {
		ve.Add("storage_root must not be empty")
	}
	if cfg.PermissionsFile == "" {
		ve.Add("permissions_file must not be empty")
	}
}

func validateSandbox(cfg *Config, ve *ValidationError) {
	if cfg.Sandbox.MaxMemoryMB <= 0 {
		ve.Add("sandbox.max_memory_mb must be > 0")
	}
	if cfg.Sandbox.ExecTimeout <= 0 {
		ve.Add("sandbox.exec_timeout must be > 0")
	}
}

func validateNetwork(cfg *Config, ve *ValidationError) {
	if cfg.Network.FetchTimeout <= 0 {
		ve.Add("network.fetch_timeout must be > 0")
	}
	if cfg.Network.MaxResponseBytes <= 0 {
		ve.Add("network.max_response_bytes must be > 0")
	}
	if cfg.Network.RequestsPerMinute <= 0 {
		ve.Add("network.requests_per_minute must be > 0")
	}
	if cfg.Network.Burst <= 0 {
		ve.Add("network.burst must be > 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug/info/warn/error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is not one of text/json", cfg.Logger.Format)
	}
}
