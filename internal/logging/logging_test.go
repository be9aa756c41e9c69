package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level       string
		development bool
		enabled     zapcore.Level
		disabled    zapcore.Level
	}{
		{"info", false, zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", true, zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn", false, zapcore.WarnLevel, zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, err := New(tt.level, tt.development)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			core := log.Core()
			if !core.Enabled(tt.enabled) {
				t.Errorf("expected %s enabled", tt.enabled)
			}
			if core.Enabled(tt.disabled) {
				t.Errorf("expected %s disabled", tt.disabled)
			}
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty", false); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
