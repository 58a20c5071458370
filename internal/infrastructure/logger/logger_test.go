package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mdrelay/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWritesFile(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	path := filepath.Join(t.TempDir(), "logs", "mdrelay.log")
	closer, err := Setup(config.LogConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1, MaxAgeDays: 1})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	log.Info().Str("component", "test").Msg("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"message":"hello file"`) || !strings.Contains(string(b), `"component":"test"`) {
		t.Errorf("unexpected log content: %s", b)
	}
}
