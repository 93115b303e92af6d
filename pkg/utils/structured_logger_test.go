package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"Warning", WARN, false},
		{"error", ERROR, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestStructuredLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  WARN,
		Output: &buf,
		Format: FormatText,
	})

	logger.Debug("not shown")
	logger.Info("not shown either")
	logger.Warn("shown")
	logger.Error("also shown")

	out := buf.String()
	if strings.Contains(out, "not shown") {
		t.Errorf("suppressed level leaked into output: %s", out)
	}
	if !strings.Contains(out, "[WARN] shown") {
		t.Errorf("warn entry missing: %s", out)
	}
	if !strings.Contains(out, "[ERROR] also shown") {
		t.Errorf("error entry missing: %s", out)
	}
}

func TestStructuredLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  INFO,
		Output: &buf,
		Format: FormatJSON,
	})

	logger.WithComponent("cache").Info("hit", map[string]interface{}{"path": "main.go"})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry.Message != "hit" {
		t.Errorf("message = %q, want hit", entry.Message)
	}
	if entry.Fields["component"] != "cache" {
		t.Errorf("component field = %v, want cache", entry.Fields["component"])
	}
	if entry.Fields["path"] != "main.go" {
		t.Errorf("path field = %v, want main.go", entry.Fields["path"])
	}
}

func TestComponentLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger(&StructuredLoggerConfig{
		Level:  ERROR,
		Output: &buf,
		Format: FormatText,
	})
	logger.SetComponentLevel("engine", DEBUG)

	logger.WithComponent("engine").Debug("engine detail")
	logger.WithComponent("cache").Debug("cache detail")

	out := buf.String()
	if !strings.Contains(out, "engine detail") {
		t.Errorf("component override did not lower the level: %s", out)
	}
	if strings.Contains(out, "cache detail") {
		t.Errorf("global level not enforced for other components: %s", out)
	}
}
