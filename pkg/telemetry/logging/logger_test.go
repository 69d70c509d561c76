package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Info("request admitted", "user_id", "alice", "provider", "openai")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "request admitted" {
		t.Errorf("expected message %q, got %v", "request admitted", entry["msg"])
	}
	if entry["user_id"] != "alice" {
		t.Errorf("expected user_id %q, got %v", "alice", entry["user_id"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "info", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Info("quota exceeded", "scope", "user:alice")

	out := buf.String()
	if !strings.Contains(out, "quota exceeded") || !strings.Contains(out, "scope=user:alice") {
		t.Errorf("unexpected text output %q", out)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	logger.Debug("dropped")
	logger.Info("dropped too")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("expected debug/info suppressed, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected warn emitted, got %q", out)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "verbose"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestNew_InvalidFormat(t *testing.T) {
	if _, err := New(Config{Format: "xml"}); err == nil {
		t.Fatal("expected error for invalid format")
	}
}
