package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Finish classifies err, runs cleanup unconditionally and moves the run to
// its terminal state.
func (p *Pipeline) Finish(ctx context.Context, run *Run, err error) Result {
	kind, message := p.classify(run, err)

	if kind == KindCancelled && (run.State == StateWriting || run.State == StateVerifying) && !run.ejectAttempted {
		p.ejectAfterCancel(ctx, run)
	}

	if cerr := p.removeArtifacts(run); cerr != nil {
		slog.Warn("cleanup_failed", "run_id", run.ID, "prefix", run.Prefix, "error", cerr)
		run.warn(fmt.Sprintf("cleanup failed: %v", cerr))
	} else {
		slog.Info("cleanup_complete", "run_id", run.ID, "prefix", run.Prefix)
	}

	switch kind {
	case KindSuccess:
		p.transition(run, StateDone)
		if p.settings != nil {
			if serr := p.settings.SetLastDevice(run.Device); serr != nil {
				run.warn(fmt.Sprintf("could not save last-used device: %v", serr))
			}
		}
	case KindCancelled:
		p.transition(run, StateCancelled)
	default:
		p.transition(run, StateFailed)
	}

	result := Result{
		RunID:          run.ID,
		Kind:           kind,
		State:          run.State,
		Message:        message,
		Device:         run.Device,
		ConvertedBytes: run.ConvertedBytes,
		BytesDone:      run.BytesDone,
		BytesTotal:     run.BytesTotal,
		Attempts:       run.Attempts,
		Warnings:       run.Warnings,
		Degraded:       run.Degraded,
	}
	if run.Image != nil {
		result.Source = run.Image.Path
	}
	if kind == KindConversionFailed && run.BytesTotal > 0 {
		result.Message += fmt.Sprintf(" (converted %d of %d bytes)", run.ConvertedBytes, run.BytesTotal)
	}
	if run.Degraded && result.Message != "" {
		result.Message += "; device left in a degraded state"
	}

	slog.Info("pipeline_finished",
		"run_id", run.ID,
		"result", kind,
		"state", run.State,
		"device", run.Device,
		"bytes_converted", run.ConvertedBytes,
		"bytes_written", run.BytesDone,
		"bytes_total", run.BytesTotal,
		"warnings", len(run.Warnings),
	)
	if p.observer != nil {
		p.observer.Finished(run, result)
	}
	return result
}

func (p *Pipeline) classify(run *Run, err error) (Kind, string) {
	var failure *Failure
	switch {
	case err == nil && run.State == StateVerifying && run.BytesDone == run.BytesTotal:
		return KindSuccess, ""
	case err == nil:
		return kindFor(run.State), fmt.Sprintf("run stopped in state %s", run.State)
	case errors.Is(err, ErrDeclined):
		return KindCancelled, err.Error()
	case errors.Is(err, context.Canceled):
		return KindCancelled, "cancelled by user"
	case errors.As(err, &failure):
		return failure.Kind, failure.Err.Error()
	default:
		return kindFor(run.State), err.Error()
	}
}

// ejectAfterCancel still tries to eject a device whose write was interrupted.
// The caller's context is already cancelled, so a bounded detached one is used.
func (p *Pipeline) ejectAfterCancel(ctx context.Context, run *Run) {
	run.ejectAttempted = true
	ejectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.EjectTimeout)
	defer cancel()

	if err := p.writer.Finalize(ejectCtx, run.Device); err != nil {
		run.warn(fmt.Sprintf("eject failed: %v", err))
	}
}

// removeArtifacts deletes the converted image and known partial outputs.
func (p *Pipeline) removeArtifacts(run *Run) error {
	paths := []string{run.Prefix, p.tool.OutputPath(run.Prefix)}
	for _, ext := range p.tool.PartialExtensions() {
		paths = append(paths, run.Prefix+ext)
	}
	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run drives every step in order on the calling goroutine.
func (p *Pipeline) Run(ctx context.Context, req Request) Result {
	run, err := p.Begin(ctx, req)
	steps := []func(context.Context, *Run) error{
		p.Convert,
		p.AwaitConfirmation,
		p.Prepare,
		p.Write,
		p.Verify,
	}
	for _, step := range steps {
		if err != nil {
			break
		}
		err = step(ctx, run)
	}
	return p.Finish(ctx, run, err)
}
