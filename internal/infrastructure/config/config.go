package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Sandbox   SandboxConfig
	Engine    EngineConfig
	Snapshot  SnapshotConfig
	Registry  RegistryConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// SandboxConfig holds sandbox runtime configuration.
type SandboxConfig struct {
	RootDir     string        `envconfig:"SANDBOX_ROOT" default:""`
	InstallDir  string        `envconfig:"SANDBOX_INSTALL_DIR" default:"node_modules"`
	BootTimeout time.Duration `envconfig:"SANDBOX_BOOT_TIMEOUT" default:"30s"`
}

// EngineConfig holds orchestration engine configuration.
type EngineConfig struct {
	TemplateTTL       time.Duration `envconfig:"TEMPLATE_TTL" default:"30m"`
	TemplateCacheSize int           `envconfig:"TEMPLATE_CACHE_SIZE" default:"16"`
	TreeDepthLimit    int           `envconfig:"TREE_DEPTH_LIMIT" default:"12"`
	DebounceWindow    time.Duration `envconfig:"FS_DEBOUNCE_WINDOW" default:"300ms"`
	SettleDelay       time.Duration `envconfig:"ENGINE_SETTLE_DELAY" default:"2s"`
	HashDevDeps       bool          `envconfig:"HASH_DEV_DEPENDENCIES" default:"true"`
}

// SnapshotConfig holds snapshot persistence configuration.
type SnapshotConfig struct {
	Dir              string        `envconfig:"SNAPSHOT_DIR" default:""`
	AutoSave         bool          `envconfig:"SNAPSHOT_AUTOSAVE" default:"true"`
	AutoSaveInterval time.Duration `envconfig:"SNAPSHOT_AUTOSAVE_INTERVAL" default:"30s"`
}

// RegistryConfig holds remote template registry configuration.
type RegistryConfig struct {
	BaseURL string        `envconfig:"TEMPLATE_REGISTRY_URL" default:""`
	Timeout time.Duration `envconfig:"TEMPLATE_REGISTRY_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Sandbox: SandboxConfig{
			InstallDir:  "node_modules",
			BootTimeout: 30 * time.Second,
		},
		Engine: EngineConfig{
			TemplateTTL:       30 * time.Minute,
			TemplateCacheSize: 16,
			TreeDepthLimit:    12,
			DebounceWindow:    300 * time.Millisecond,
			SettleDelay:       2 * time.Second,
			HashDevDeps:       true,
		},
		Snapshot: SnapshotConfig{
			AutoSave:         true,
			AutoSaveInterval: 30 * time.Second,
		},
		Registry: RegistryConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
