package observability

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLoggerLevels(t *testing.T) {
	cases := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"  INFO ", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		logger := InitLogger("xferbridge-test", tc.level)
		if logger.GetLevel() != tc.want {
			t.Errorf("InitLogger level %q = %s, want %s", tc.level, logger.GetLevel(), tc.want)
		}
	}
}
