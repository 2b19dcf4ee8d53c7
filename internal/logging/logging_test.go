// internal/logging/logging_test.go - Unit tests for logger construction
package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"fatal", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNopDiscards(t *testing.T) {
	l := OrNop(nil)
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("Expected nop logger to be disabled at every level")
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(&buf, "json", slog.LevelInfo))
	l.Debug("hidden")
	l.Info("shown", "tile", "0/1/2")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected debug record to be filtered")
	}
	if !strings.Contains(out, `"tile":"0/1/2"`) {
		t.Errorf("Expected json attribute in output, got %s", out)
	}
}

func TestNewRejectsUnknownOutput(t *testing.T) {
	if _, _, err := New(Options{Level: "info", Output: "syslog"}); err == nil {
		t.Error("Expected error for unknown output")
	}
}
