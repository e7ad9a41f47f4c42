package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestLineReporterThrottlesToWholePercent(t *testing.T) {
	var buf bytes.Buffer
	r := NewLineReporter(&buf)

	total := int64(1000)
	for _, done := range []int64{1, 2, 9, 10, 11, 500, 1000} {
		r.Report(Update{Phase: "writing", Done: done, Total: total})
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// 0%, 1%, 50%, 100%
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), lines)
	}
	if lines[3] != "writing: 100% (1.0 kB / 1.0 kB)" {
		t.Errorf("unexpected final line %q", lines[3])
	}
}

func TestLineReporterPrintsOnPhaseChange(t *testing.T) {
	var buf bytes.Buffer
	r := NewLineReporter(&buf)

	r.Report(Update{Phase: "converting", Done: 10, Total: 10})
	r.Report(Update{Phase: "writing", Done: 10, Total: 10})
	r.Report(Update{Phase: "writing", Done: 10, Total: 10})

	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", n, buf.String())
	}
}

func TestUpdatePercent(t *testing.T) {
	tests := []struct {
		u    Update
		want float64
	}{
		{Update{Done: 50, Total: 200}, 25},
		{Update{Done: 50}, 0},
		{Update{Done: 200, Total: 200}, 100},
	}
	for _, tt := range tests {
		if got := tt.u.Percent(); got != tt.want {
			t.Errorf("Percent(%+v) = %v, want %v", tt.u, got, tt.want)
		}
	}
}

func TestBarReporterWrites(t *testing.T) {
	var buf bytes.Buffer
	r := NewBarReporter(&buf)
	r.Report(Update{Phase: "writing", Done: 512, Total: 1024})
	r.Report(Update{Phase: "writing", Done: 1024, Total: 1024})
	if !strings.Contains(buf.String(), "writing") {
		t.Errorf("expected bar output to contain the phase, got %q", buf.String())
	}
}
