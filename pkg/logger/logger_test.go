package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"debug", *DebugConfig(), false},
		{"json format", Config{Level: InfoLevel, Format: JSONFormat}, false},
		{"bad level", Config{Level: "loud", Format: TextFormat}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(&Config{Level: "loud", Format: TextFormat}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestFileOutputCarriesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")

	log, err := New(&Config{Level: DebugLevel, Format: JSONFormat, File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.WithField("batch_id", "abc-123").
		WithComponent("test").
		Info("hello from the test")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	content := string(data)
	for _, want := range []string{"batch_id", "abc-123", "component", "hello from the test"} {
		if !strings.Contains(content, want) {
			t.Errorf("log output missing %q:\n%s", want, content)
		}
	}
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	log, err := New(&Config{Level: InfoLevel, Format: JSONFormat, File: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	child := log.WithFields(Fields{"scope": "child"})
	log.Info("parent message")
	child.Info("child message")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if strings.Contains(lines[0], "scope") {
		t.Error("parent logger picked up the child's field")
	}
	if !strings.Contains(lines[1], "child") {
		t.Error("child logger lost its field")
	}
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	replacement, err := New(DebugConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	SetGlobalLogger(replacement)

	if GetGlobalLogger() != replacement {
		t.Error("global logger was not replaced")
	}
}
