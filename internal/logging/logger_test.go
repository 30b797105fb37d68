package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"trace", LevelTrace},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("info", &buf)
	log.Debug("hidden")
	log.Info("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
	if !strings.Contains(out, "visible") {
		t.Error("info message missing")
	}
}

func TestNewTrialLogger_InfoLevelDisabled(t *testing.T) {
	dir := t.TempDir()
	tl := NewTrialLogger(dir, "info")
	if tl != nil {
		t.Fatal("trial logger created at info level")
	}
	// Nil receiver is safe.
	tl.Log(map[string]any{"trial": 1})
	tl.Close()
	if _, err := os.Stat(filepath.Join(dir, "trials.jsonl")); !os.IsNotExist(err) {
		t.Error("trials.jsonl created at info level")
	}
}

func TestTrialLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	tl := NewTrialLogger(dir, "debug")
	if tl == nil {
		t.Fatal("NewTrialLogger() = nil at debug level")
	}
	tl.Log(map[string]any{"trial": 0, "ranks": map[string]any{"mu": []int{3}}})
	tl.Log(map[string]any{"trial": 1, "skipped": true})
	tl.Close()

	f, err := os.Open(filepath.Join(dir, "trials.jsonl"))
	if err != nil {
		t.Fatalf("opening trial log: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
		var event map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if _, ok := event["time"]; !ok {
			t.Errorf("line %d missing time field", lines)
		}
	}
	if lines != 2 {
		t.Errorf("got %d lines, want 2", lines)
	}
}
