package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    LogLevel
		expected string
	}{
		{"debug level", LevelDebug, "debug"},
		{"info level", LevelInfo, "info"},
		{"warn level", LevelWarn, "warn"},
		{"error level", LevelError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.level) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.level))
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level %s, got %s", LevelInfo, cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Expected default format %s, got %s", FormatText, cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("Expected default output stderr, got %s", cfg.Output)
	}
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)

	logger.WithScanID(42).WithBulletSet("http").Info("command finished", "exit_code", 1)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "command finished" {
		t.Errorf("Unexpected msg %v", entry["msg"])
	}
	if entry["scan_id"] != float64(42) {
		t.Errorf("Expected scan_id 42, got %v", entry["scan_id"])
	}
	if entry["bullet_set"] != "http" {
		t.Errorf("Expected bullet_set http, got %v", entry["bullet_set"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelWarn, Format: FormatText}, &buf)

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Info message should be filtered at warn level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("Warn message should be written")
	}
}

func TestScanHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelInfo, Format: FormatText}, &buf)

	logger.InfoScan("scan started", "10.0.0.1", "profile", "default")
	logger.ErrorScan("scan failed", "10.0.0.1", fmt.Errorf("integrity"))
	logger.InfoDatabase("connected")
	logger.WithScanID(7).WithBulletSet("web").WithDispatch("tok-1").Info("dispatch")
	logger.WithMassRun(3, "day").WarnSkipped("ssl", "cycle", "port", "443")

	out := buf.String()
	for _, want := range []string{
		"target=10.0.0.1", "profile=default", "error=integrity", "component=database",
		"scan_id=7", "bullet_set=web", "token=tok-1",
		"mass_id=3", "mass_type=day", "bullet_set=ssl", "reason=cycle", "port=443",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output %q", want, out)
		}
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "loadout.log")
	logger, err := New(Config{Level: LevelInfo, Format: FormatText, Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	logger.Info("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "to file") {
		t.Errorf("Expected log line in file, got %q", string(data))
	}
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewWithWriter(Config{Level: LevelDebug}, &buf))

	Debug("debug line")
	Warn("warn line")
	InfoScan("scan line", "example.org")

	out := buf.String()
	for _, want := range []string{"debug line", "warn line", "target=example.org"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output", want)
		}
	}
}
