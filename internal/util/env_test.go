package util

import (
	"log/slog"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value    string
		def      bool
		expected bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"1", false, true},
		{"false", true, false},
		{"Off", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv("PIDOG_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("PIDOG_TEST_BOOL", tt.def); got != tt.expected {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.expected)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value    string
		expected int
	}{
		{"", 15},
		{"30", 30},
		{" 5 ", 5},
		{"0", 15},
		{"-2", 15},
		{"fast", 15},
	}
	for _, tt := range tests {
		t.Setenv("PIDOG_TEST_INT", tt.value)
		if got := ParseIntEnv("PIDOG_TEST_INT", 15); got != tt.expected {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.value, got, tt.expected)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", time.Second},
		{"500ms", 500 * time.Millisecond},
		{"2s", 2 * time.Second},
		{"0s", 0},
		{"-1s", time.Second},
		{"soon", time.Second},
	}
	for _, tt := range tests {
		t.Setenv("PIDOG_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("PIDOG_TEST_DURATION", time.Second); got != tt.expected {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.expected)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		value    string
		expected slog.Level
		ok       bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{" error ", slog.LevelError, true},
		{"", slog.LevelDebug, false},
		{"loud", slog.LevelDebug, false},
	}
	for _, tt := range tests {
		got, ok := ParseLogLevel(tt.value, slog.LevelDebug)
		if got != tt.expected || ok != tt.ok {
			t.Errorf("ParseLogLevel(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.expected, tt.ok)
		}
	}
}
