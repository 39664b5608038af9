package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/jobs"
)

func TestParseAge(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"0d", 0, false},
		{"36h", 36 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"-1d", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAge(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAge(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseAge(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseCutoff(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	got, err := parseCutoff("2026-03-01", now)
	if err != nil {
		t.Fatalf("parseCutoff: %v", err)
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("parseCutoff(date) = %v, want %v", got, want)
	}

	got, err = parseCutoff("2 weeks ago", now)
	if err != nil {
		t.Fatalf("parseCutoff: %v", err)
	}
	if !got.Before(now.Add(-13*24*time.Hour)) || got.Before(now.Add(-15*24*time.Hour)) {
		t.Errorf("parseCutoff(2 weeks ago) = %v, want about 14 days before %v", got, now)
	}

	if _, err := parseCutoff("whenever", now); err == nil {
		t.Error("expected an error for an unparseable date")
	}
}

func TestTruncateReason(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"short", "exit 1", 80, "exit 1"},
		{"first line only", "configuration validation failed\n  - bad", 80, "configuration validation failed"},
		{"word break", "the quick brown fox jumps over the lazy dog", 30, "the quick brown fox jumps..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateReason(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("truncateReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTerminalPrompter(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out strings.Builder
			p := terminalPrompter{in: strings.NewReader(tt.input), out: &out}
			got, err := p.Confirm(context.Background(), "Clear stale lock?")
			if err != nil {
				t.Fatalf("Confirm: %v", err)
			}
			if got != tt.want {
				t.Errorf("Confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if out.String() != "Clear stale lock? [y/N] " {
				t.Errorf("prompt = %q", out.String())
			}
		})
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&exitError{code: 130, err: cause})

	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 130 {
		t.Fatalf("errors.As failed for %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("exitError does not unwrap to its cause")
	}
	if (&exitError{code: 1}).Error() != "exit status 1" {
		t.Error("silent exitError has wrong message")
	}
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcswitcher", "config.yaml")

	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}

	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); err == nil {
		t.Error("second init without --force should refuse to overwrite")
	}
}

func TestLoadConfigPointsAtInit(t *testing.T) {
	old := configPath
	defer func() { configPath = old }()
	configPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := loadConfig()
	if err == nil || !strings.Contains(err.Error(), "pcswitcher init") {
		t.Errorf("loadConfig() = %v, want a hint to run init", err)
	}
	if _, statErr := os.Stat(configPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("loadConfig must not create the file")
	}
}

func TestVersionOutputReadableByInstall(t *testing.T) {
	SetVersion("1.4.2", "abc1234", "2026-03-01")
	defer SetVersion("dev", "unknown", "unknown")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"--version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("--version: %v", err)
	}
	if got := jobs.ParseVersionOutput(out.String()); got != "1.4.2" {
		t.Errorf("install job would read version %q from %q", got, out.String())
	}
}
