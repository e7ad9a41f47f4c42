package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/isoflash/isoflash/pkg/progress"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 600 * time.Second
	DefaultDelay       = 2 * time.Second
)

type Config struct {
	MaxAttempts  int
	Timeout      time.Duration
	Delay        time.Duration
	PollInterval time.Duration
	StallPolls   int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  DefaultMaxAttempts,
		Timeout:      DefaultTimeout,
		Delay:        DefaultDelay,
		PollInterval: progress.DefaultInterval,
		StallPolls:   progress.DefaultStallPolls,
	}
}

// Job is one monitored external operation that writes Artifact.
type Job struct {
	Phase    string
	Artifact string
	Total    int64
	Reporter progress.Reporter
	// Size overrides how the artifact is measured; nil stats the file.
	Size progress.SizeFunc
	// Prepare runs before every attempt, typically removing partial output.
	Prepare func() error
	Run     func(ctx context.Context) error
}

// Outcome describes a successful Do.
type Outcome struct {
	Attempts int
	Bytes    int64
}

// Controller runs a Job under an attempt ceiling, a per-attempt deadline and
// stall detection.
type Controller struct {
	cfg Config
}

func New(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StallPolls <= 0 {
		cfg.StallPolls = def.StallPolls
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Do runs job until an attempt succeeds or MaxAttempts have failed.
// Cancellation of ctx is returned as ctx.Err() and never retried.
func (c *Controller) Do(ctx context.Context, job Job) (Outcome, error) {
	var (
		outcome Outcome
		lastErr error
	)

	var b backoff.BackOff = backoff.NewConstantBackOff(c.cfg.Delay)
	b = backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		outcome.Attempts++

		if job.Prepare != nil {
			if err := job.Prepare(); err != nil {
				return backoff.Permanent(err)
			}
		}

		slog.Info("attempt_start", "phase", job.Phase, "attempt", outcome.Attempts, "max_attempts", c.cfg.MaxAttempts)
		bytes, err := c.attempt(ctx, job, outcome.Attempts)
		outcome.Bytes = bytes
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			lastErr = err
			return err
		}

		slog.Info("attempt_complete", "phase", job.Phase, "attempt", outcome.Attempts, "bytes", bytes)
		return nil
	}

	notify := func(err error, next time.Duration) {
		slog.Warn("attempt_failed", "phase", job.Phase, "attempt", outcome.Attempts, "error", err, "retry_in", next)
	}

	err := backoff.RetryNotify(operation, b, notify)
	switch {
	case err == nil:
		return outcome, nil
	case ctx.Err() != nil:
		return outcome, ctx.Err()
	case lastErr != nil && errors.Is(err, lastErr):
		slog.Error("attempts_exhausted", "phase", job.Phase, "attempts", outcome.Attempts, "error", err)
		return outcome, &ExhaustedError{Attempts: outcome.Attempts, Last: lastErr}
	default:
		return outcome, err
	}
}

// attempt runs the job and its monitor concurrently. The first of tool exit,
// stall, deadline or cancellation ends the attempt.
func (c *Controller) attempt(ctx context.Context, job Job, n int) (int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	monitor := &progress.Monitor{
		Path:       job.Artifact,
		Total:      job.Total,
		Interval:   c.cfg.PollInterval,
		StallPolls: c.cfg.StallPolls,
		Phase:      job.Phase,
		Reporter:   job.Reporter,
		Size:       job.Size,
	}

	g, gctx := errgroup.WithContext(attemptCtx)
	monitorCtx, stopMonitor := context.WithCancel(gctx)
	defer stopMonitor()

	g.Go(func() error {
		defer stopMonitor()
		return job.Run(gctx)
	})
	g.Go(func() error {
		status := monitor.Run(monitorCtx)
		if status.Signal == progress.Stalled {
			return &StallError{Attempt: n, Size: status.Size, Polls: status.Polls}
		}
		return nil
	})

	err := g.Wait()
	bytes := c.finalSize(job, monitor.Status().Size)

	var stall *StallError
	switch {
	case err == nil:
		return bytes, nil
	case errors.As(err, &stall):
		return bytes, err
	case ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return bytes, &TimeoutError{Attempt: n, Timeout: c.cfg.Timeout, Err: err}
	default:
		return bytes, err
	}
}

func (c *Controller) finalSize(job Job, observed int64) int64 {
	size := job.Size
	if size == nil {
		size = progress.FileSize
	}
	if n, err := size(job.Artifact); err == nil && n > observed {
		return n
	}
	return observed
}
