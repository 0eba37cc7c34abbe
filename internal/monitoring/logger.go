// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"log"
	"time"

	"github.com/banshee-data/crashrisk/internal/timeutil"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be replaced by SetLogger, e.g. to mute pipeline progress in tests.
var Logf func(format string, v ...interface{}) = log.Printf

// Clock times pipeline stages.
var Clock timeutil.Clock = timeutil.RealClock{}

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Stage logs the start of a named pipeline stage and returns a function
// that logs its duration:
//
//	defer monitoring.Stage("table 2")()
func Stage(name string) func() {
	clock := Clock
	start := clock.Now()
	Logf("%s: started", name)
	return func() {
		Logf("%s: done in %s", name, clock.Since(start).Round(time.Millisecond))
	}
}
