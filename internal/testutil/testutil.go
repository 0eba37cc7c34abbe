// Package testutil provides shared test helpers and a synthetic FARS
// population with known parameters.
package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/banshee-data/crashrisk/internal/monitoring"
)

// CaptureLogs redirects the monitoring logger for the duration of the test
// and returns a function reporting the lines logged so far.
func CaptureLogs(t *testing.T) func() []string {
	t.Helper()
	var (
		mu    sync.Mutex
		lines []string
	)
	prev := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.Logf = prev })
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), lines...)
	}
}

// Quiet mutes the monitoring logger for the duration of the test.
func Quiet(t *testing.T) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = prev })
}
