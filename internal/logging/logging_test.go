package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		"WARN":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWithFileOutput(t *testing.T) {
	dir := t.TempDir()

	logger := Init(Config{Format: "json", Level: "info", Component: "test", Dir: dir})
	logger.Info().Str("key", "value").Msg("file output probe")
	Shutdown()

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}
}

func TestInitWithoutDirDoesNotCreateFile(t *testing.T) {
	Init(Config{Format: "json", Level: "info"})
	defer Shutdown()

	if fileCloser != nil {
		t.Fatal("no file writer expected without a log dir")
	}
}
