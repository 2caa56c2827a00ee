// Package config loads nbdeck configuration from .nbdeck/config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all nbdeck configuration.
type Config struct {
	// Kernel server process settings
	Server ServerConfig `yaml:"server"`

	// Interpreter resolution
	Interpreter InterpreterConfig `yaml:"interpreter"`

	// Cell execution
	Execution ExecutionConfig `yaml:"execution"`

	// Workspace persistence
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the supervised kernel server process.
//
// Host, port, and token are fixed for the lifetime of one activation. Two
// simultaneously open documents therefore collide on the same port; nbdeck
// deliberately preserves this single-document-at-a-time behavior rather
// than randomizing the endpoint.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`

	// Health polling: PollAttempts * PollInterval bounds startup.
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`

	// Grace period between interrupt and kill during shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// BaseURL returns the server's HTTP base URL.
func (s ServerConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// InterpreterConfig configures interpreter resolution and probing.
type InterpreterConfig struct {
	// Modules the candidate interpreter must be able to import.
	RequiredModules []string `yaml:"required_modules"`

	// Timeout for one probe subprocess.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ExecutionConfig configures cell execution.
type ExecutionConfig struct {
	// Whether executions increment the kernel's In[n] history counter.
	StoreHistory bool `yaml:"store_history"`

	// Timeout for one execute round trip on the kernel channel.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig configures the workspace store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures category logging. Interpreted by internal/logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:          "localhost",
			Port:          8899,
			Token:         "6bac45cd0b1ffde4490b9ef5253b59b4e40fa30b28e5e4a1",
			PollInterval:  500 * time.Millisecond,
			PollAttempts:  50,
			ShutdownGrace: 5 * time.Second,
		},
		Interpreter: InterpreterConfig{
			RequiredModules: []string{"ipykernel", "jupyter_server"},
			ProbeTimeout:    15 * time.Second,
		},
		Execution: ExecutionConfig{
			StoreHistory: true,
			Timeout:      5 * time.Minute,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(".nbdeck", "workspace.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads config from path, merging over defaults. A missing file is not
// an error; defaults plus environment overrides apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadWorkspace loads config from the conventional workspace location.
func LoadWorkspace(workspace string) (*Config, error) {
	return Load(filepath.Join(workspace, ".nbdeck", "config.yaml"))
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NBDECK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("NBDECK_SERVER_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("NBDECK_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("NBDECK_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}
}

// Validate checks the config for values the runtime cannot work with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.Token == "" {
		return fmt.Errorf("server token must not be empty")
	}
	if c.Server.PollAttempts <= 0 {
		return fmt.Errorf("poll_attempts must be positive")
	}
	if c.Server.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if len(c.Interpreter.RequiredModules) == 0 {
		return fmt.Errorf("required_modules must not be empty")
	}
	return nil
}
