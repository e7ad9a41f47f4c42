package progress

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval   = time.Second
	DefaultStallPolls = 30
)

// Signal is the monitor's verdict on the artifact it watches.
type Signal int

const (
	Running Signal = iota
	Complete
	Stalled
	Vanished
	Stopped
)

func (s Signal) String() string {
	switch s {
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Stalled:
		return "stalled"
	case Vanished:
		return "vanished"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is a snapshot of a monitor's progress.
type Status struct {
	Signal    Signal
	Size      int64
	Total     int64
	Polls     int
	Unchanged int
}

// Terminal reports whether the monitor has stopped polling.
func (s Status) Terminal() bool {
	return s.Signal != Running
}

// SizeFunc returns the current byte size of path.
type SizeFunc func(path string) (int64, error)

// FileSize stats path.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Monitor polls the size of a growing artifact and reports advances to a
// Reporter. It never retries; a stalled or vanished artifact ends the run.
type Monitor struct {
	Path       string
	Total      int64
	Interval   time.Duration
	StallPolls int
	Phase      string
	Reporter   Reporter
	Size       SizeFunc

	status atomic.Pointer[Status]
}

// Status returns the last published snapshot without consuming it.
func (m *Monitor) Status() Status {
	if s := m.status.Load(); s != nil {
		return *s
	}
	return Status{Signal: Running, Total: m.Total}
}

func (m *Monitor) publish(s Status) Status {
	m.status.Store(&s)
	return s
}

// Run polls until the artifact completes, stalls, vanishes or ctx is done,
// and returns the final status.
func (m *Monitor) Run(ctx context.Context) Status {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	stallPolls := m.StallPolls
	if stallPolls <= 0 {
		stallPolls = DefaultStallPolls
	}
	size := m.Size
	if size == nil {
		size = FileSize
	}
	reporter := m.Reporter
	if reporter == nil {
		reporter = Discard
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last      int64
		seen      bool
		polls     int
		unchanged int
	)
	snapshot := func(signal Signal) Status {
		return Status{Signal: signal, Size: last, Total: m.Total, Polls: polls, Unchanged: unchanged}
	}
	m.publish(snapshot(Running))

	for {
		select {
		case <-ctx.Done():
			return m.publish(snapshot(Stopped))
		case <-ticker.C:
		}

		polls++
		current, err := size(m.Path)
		switch {
		case err == nil:
			seen = true
		case errors.Is(err, fs.ErrNotExist) && !seen:
			current = 0
		case errors.Is(err, fs.ErrNotExist):
			slog.Warn("artifact_vanished", "path", m.Path, "last_size", last)
			return m.publish(snapshot(Vanished))
		default:
			slog.Debug("artifact_stat_failed", "path", m.Path, "error", err)
			current = last
		}

		if current == last {
			unchanged++
		} else {
			if current > last {
				reporter.Report(Update{Phase: m.Phase, Done: current, Total: m.Total, Advanced: current - last})
			}
			last = current
			unchanged = 0
		}

		if m.Total > 0 && current >= m.Total {
			return m.publish(snapshot(Complete))
		}
		if unchanged >= stallPolls {
			slog.Warn("artifact_stalled", "path", m.Path, "size", last, "polls", polls)
			return m.publish(snapshot(Stalled))
		}
		m.publish(snapshot(Running))
	}
}
