package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/loadout/internal/db"
	"github.com/anstrom/loadout/internal/errors"
	"github.com/anstrom/loadout/internal/mass"
)

// Config represents the complete loadout configuration
type Config struct {
	// Engine configuration
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Mass scan configuration
	Mass MassConfig `yaml:"mass" json:"mass"`

	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// EngineConfig holds rule engine settings
type EngineConfig struct {
	// Directory holding bullet set rule documents
	BulletsDir string `yaml:"bullets_dir" json:"bullets_dir" validate:"required"`

	// Directory holding helper plugins referenced as [plugins]
	PluginsDir string `yaml:"plugins_dir" json:"plugins_dir"`

	// Directory holding finding templates for reports
	TemplatesDir string `yaml:"templates_dir" json:"templates_dir"`

	// Finding template file inside TemplatesDir
	DefaultTemplate string `yaml:"default_template" json:"default_template"`

	// Bullet set used when none is requested and port scanning is disabled
	DefaultBullet string `yaml:"default_bullet" json:"default_bullet"`

	// Parent directory for per-scan scratch directories
	ScratchRoot string `yaml:"scratch_root" json:"scratch_root"`

	// Shell used to interpret commands
	Shell string `yaml:"shell" json:"shell" validate:"required"`

	// Per-command timeout (0 = none)
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout" validate:"gte=0"`

	// Maximum recursion depth for follow-on bullet sets (0 = unlimited)
	MaxDepth int `yaml:"max_depth" json:"max_depth" validate:"gte=0"`

	// Number of top ports probed by the default profile
	TopPorts int `yaml:"top_ports" json:"top_ports" validate:"gte=1,lte=65535"`
}

// MassConfig holds recurring multi-target scan settings
type MassConfig struct {
	// Bullet set per mass type
	Bullets map[string]string `yaml:"bullets" json:"bullets"`

	// Cron expression per mass type
	Schedules map[string]string `yaml:"schedules" json:"schedules"`

	// Number of targets scanned at once
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gte=1,lte=64"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// Listen address for /health and /metrics
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"gte=1,lte=65535"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// PID file written while the daemon runs (empty = none)
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Origins allowed to call the API from a browser
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			BulletsDir:      "./bullets",
			PluginsDir:      "./plugins",
			TemplatesDir:    "./templates",
			DefaultTemplate: "findings.yaml",
			DefaultBullet:   "",
			ScratchRoot:     os.TempDir(),
			Shell:           "/bin/sh",
			CommandTimeout:  0,
			MaxDepth:        8,
			TopPorts:        50,
		},
		Database: db.DefaultConfig(),
		Mass: MassConfig{
			Bullets: map[string]string{},
			Schedules: map[string]string{
				"day":   "@daily",
				"week":  "@weekly",
				"month": "@monthly",
			},
			Concurrency: 4,
		},
		Daemon: DaemonConfig{
			ListenAddr:      "127.0.0.1",
			Port:            9464,
			ShutdownTimeout: 30 * time.Second,
			PIDFile:         filepath.Join(os.TempDir(), "loadout.pid"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	if path == "" {
		return config, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder covers .yaml, .yml and .json
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	for massType := range c.Mass.Bullets {
		if !mass.IsType(massType) {
			return errors.ErrConfigInvalid("mass.bullets", massType)
		}
	}
	for massType := range c.Mass.Schedules {
		if !mass.IsType(massType) {
			return errors.ErrConfigInvalid("mass.schedules", massType)
		}
	}

	return nil
}

// TemplatePath returns the full path of the finding template catalogue.
func (c *Config) TemplatePath() string {
	return filepath.Join(c.Engine.TemplatesDir, c.Engine.DefaultTemplate)
}

// GetDaemonAddress returns the full daemon listen address
func (c *Config) GetDaemonAddress() string {
	return fmt.Sprintf("%s:%d", c.Daemon.ListenAddr, c.Daemon.Port)
}
