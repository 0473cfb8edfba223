package gtest

import (
	"log/slog"
	"testing"

	"github.com/neilotoole/slogt"
)

// NewLogger returns a logger whose output is attributed to t,
// so that log lines appear alongside the failing test.
func NewLogger(t testing.TB) *slog.Logger {
	return slogt.New(t)
}
