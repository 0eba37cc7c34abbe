package monitoring

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/crashrisk/internal/timeutil"
)

func capture(t *testing.T) *[]string {
	t.Helper()
	original := Logf
	t.Cleanup(func() { Logf = original })
	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func TestSetLogger(t *testing.T) {
	lines := capture(t)
	Logf("window %d", 1987)
	if len(*lines) != 1 || (*lines)[0] != "window 1987" {
		t.Fatalf("custom logger got %q", *lines)
	}

	SetLogger(nil)
	Logf("muted")
	if len(*lines) != 1 {
		t.Errorf("nil logger should mute output, got %q", *lines)
	}
}

func TestStage(t *testing.T) {
	lines := capture(t)
	done := Stage("table 2")
	done()

	if len(*lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", *lines)
	}
	if (*lines)[0] != "table 2: started" {
		t.Errorf("unexpected start line %q", (*lines)[0])
	}
	if !strings.HasPrefix((*lines)[1], "table 2: done in ") {
		t.Errorf("unexpected end line %q", (*lines)[1])
	}
}

func TestStageDuration(t *testing.T) {
	lines := capture(t)
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	prev := Clock
	Clock = clock
	t.Cleanup(func() { Clock = prev })

	done := Stage("table 4")
	clock.Advance(1500 * time.Millisecond)
	done()

	if got := (*lines)[1]; got != "table 4: done in 1.5s" {
		t.Errorf("unexpected end line %q", got)
	}
}
