// Package testlog routes global log output through the test runner so
// log lines carry the emitting test's name.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start swaps the global logger for one that writes through t and
// restores the previous logger when the test ends.
func Start(t *testing.T) {
	t.Helper()
	prev := log.Logger
	log.Logger = zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	t.Cleanup(func() {
		log.Logger = prev
	})
}
