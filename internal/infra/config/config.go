package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// SandboxConfig bounds every extension's runtime environment.
type SandboxConfig struct {
	// MaxMemoryMB caps a guest's linear memory. Default 64.
	MaxMemoryMB int `yaml:"max_memory_mb"`
	// ExecTimeout bounds each guest entry-point call. Default 30s.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

// NetworkConfig bounds the net.fetch host function.
type NetworkConfig struct {
	// FetchTimeout bounds a single outbound request. Default 30s.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// MaxResponseBytes caps the bytes read from a response body. Default 4 MiB.
	MaxResponseBytes int64 `yaml:"max_response_bytes"`
	// RequestsPerMinute rate-limits fetches per extension. Default 60.
	RequestsPerMinute int `yaml:"requests_per_minute"`
	// Burst is the limiter burst size. Default 10.
	Burst int `yaml:"burst"`
}

// Config is the top-level extension host configuration.
type Config struct {
	// ExtensionsRoot is where installed extension packages live.
	ExtensionsRoot string `yaml:"extensions_root"`
	// WorkspaceRoot is the directory workspace-scoped filesystem host
	// functions are confined to. Updatable at runtime by the editor.
	WorkspaceRoot string `yaml:"workspace_root"`
	// StorageRoot holds per-extension private storage directories.
	StorageRoot string `yaml:"storage_root"`
	// PermissionsFile is the JSON document persisting grant decisions.
	PermissionsFile string `yaml:"permissions_file"`

	Sandbox SandboxConfig `yaml:"sandbox"`
	Network NetworkConfig `yaml:"network"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".glyph"
	}
	return filepath.Join(home, ".glyph")
}

// Defaults returns a Config with every field set to its default.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		ExtensionsRoot:  filepath.Join(dataDir, "extensions"),
		WorkspaceRoot:   ".",
		StorageRoot:     filepath.Join(dataDir, "storage"),
		PermissionsFile: filepath.Join(dataDir, "permissions.json"),
		Sandbox: SandboxConfig{
			MaxMemoryMB: 64,
			ExecTimeout: 30 * time.Second,
		},
		Network: NetworkConfig{
			FetchTimeout:      30 * time.Second,
			MaxResponseBytes:  4 << 20,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Enabled: false, Exporter: "noop"},
	}
}

// Load reads a YAML config file layered over Defaults. A missing path
// returns Defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets the environment override the directory roots,
// which is how the surrounding editor points the host at the open project.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GLYPH_EXTENSIONS_ROOT"); v != "" {
		cfg.ExtensionsRoot = v
	}
	if v := os.Getenv("GLYPH_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("GLYPH_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("GLYPH_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}
