package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/loadout/internal/errors"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "valid yaml config",
			setup: func(t *testing.T) string {
				content := []byte(`
engine:
  bullets_dir: /opt/loadout/bullets
  shell: /bin/bash
  command_timeout: 90s
  max_depth: 3
  top_ports: 100
database:
  host: db.internal
  port: 5433
  database: loadout
  username: loadout
mass:
  bullets:
    day: web-light
    month: full
  concurrency: 8
logging:
  level: debug
  format: json
`)
				path := filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, content, 0o600))
				return path
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/opt/loadout/bullets", cfg.Engine.BulletsDir)
				assert.Equal(t, "/bin/bash", cfg.Engine.Shell)
				assert.Equal(t, 90*time.Second, cfg.Engine.CommandTimeout)
				assert.Equal(t, 3, cfg.Engine.MaxDepth)
				assert.Equal(t, 100, cfg.Engine.TopPorts)
				assert.Equal(t, "db.internal", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, 8, cfg.Mass.Concurrency)
				assert.Equal(t, "debug", cfg.Logging.Level)
				// untouched sections keep their defaults
				assert.Equal(t, "./plugins", cfg.Engine.PluginsDir)
				assert.Equal(t, 9464, cfg.Daemon.Port)
				assert.Equal(t, "@weekly", cfg.Mass.Schedules["week"])
			},
		},
		{
			name: "missing file returns defaults",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "absent.yaml")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, Default().Engine, cfg.Engine)
			},
		},
		{
			name:  "empty path returns defaults",
			setup: func(t *testing.T) string { return "" },
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/bin/sh", cfg.Engine.Shell)
				assert.Equal(t, 8, cfg.Engine.MaxDepth)
			},
		},
		{
			name: "malformed yaml",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "bad.yaml")
				require.NoError(t, os.WriteFile(path, []byte("engine: [oops"), 0o600))
				return path
			},
			wantErr: true,
		},
		{
			name: "invalid values rejected",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "invalid.yaml")
				require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: chatty\n"), 0o600))
				return path
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.setup(t))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "empty bullets dir", mutate: func(c *Config) { c.Engine.BulletsDir = "" }, wantErr: true},
		{name: "empty shell", mutate: func(c *Config) { c.Engine.Shell = "" }, wantErr: true},
		{name: "negative depth", mutate: func(c *Config) { c.Engine.MaxDepth = -1 }, wantErr: true},
		{name: "zero top ports", mutate: func(c *Config) { c.Engine.TopPorts = 0 }, wantErr: true},
		{name: "concurrency too high", mutate: func(c *Config) { c.Mass.Concurrency = 65 }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "unknown mass bullet type", mutate: func(c *Config) { c.Mass.Bullets["year"] = "x" }, wantErr: true},
		{name: "unknown mass schedule type", mutate: func(c *Config) { c.Mass.Schedules["hour"] = "@hourly" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigErrorCodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [oops"), 0o600))
	_, err := Load(path)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
	assert.Contains(t, err.Error(), "bad.yaml")

	cfg := Default()
	cfg.Mass.Bullets["year"] = "x"
	err = cfg.Validate()
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Contains(t, err.Error(), "mass.bullets")
}

func TestDaemonDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1:9464", cfg.GetDaemonAddress())
	assert.Equal(t, "loadout.pid", filepath.Base(cfg.Daemon.PIDFile))
	assert.Empty(t, cfg.Daemon.CORSOrigins)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Engine.BulletsDir = "/srv/bullets"
	cfg.Mass.Bullets["day"] = "quick"

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/bullets", loaded.Engine.BulletsDir)
	assert.Equal(t, "quick", loaded.Mass.Bullets["day"])
}

func TestHelpers(t *testing.T) {
	cfg := Default()
	cfg.Engine.TemplatesDir = "/etc/loadout/templates"
	assert.Equal(t, "/etc/loadout/templates/findings.yaml", cfg.TemplatePath())
	assert.Equal(t, "127.0.0.1:9464", cfg.GetDaemonAddress())
}
