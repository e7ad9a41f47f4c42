package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/isoflash/isoflash/pkg/retry"
	"github.com/isoflash/isoflash/pkg/source"
	"github.com/isoflash/isoflash/pkg/writer"
)

type Request struct {
	ID       string
	Image    *source.Image
	Device   string
	Settings Settings
}

// Begin creates the run record, resolves the target device and validates it.
// The returned run is never nil; pass it to Finish even when err is set.
func (p *Pipeline) Begin(ctx context.Context, req Request) (*Run, error) {
	run := &Run{
		ID:     req.ID,
		Image:  req.Image,
		Device: req.Device,
		State:  StateIdle,
		Prefix: ArtifactPrefix(p.opts.WorkDir, req.ID),
	}
	if run.Device == "" {
		run.Device = req.Settings.LastDevice
	}
	if req.Image != nil {
		run.BytesTotal = req.Image.Size
	}

	slog.Info("pipeline_begin", "run_id", run.ID, "device", run.Device, "last_device", req.Settings.LastDevice)

	if req.Image == nil {
		return run, fail(KindConversionFailed, errors.New("no source image"))
	}
	if run.Device == "" {
		return run, fail(KindDeviceUnavailable, errors.New("no target device given and no last-used device recorded"))
	}
	if p.validator != nil {
		if err := p.validator.ValidateDevice(run.Device); err != nil {
			return run, fail(KindDeviceUnavailable, err)
		}
	}

	info, err := p.tool.Describe(ctx, run.Device)
	if err != nil {
		if ctx.Err() != nil {
			return run, ctx.Err()
		}
		return run, fail(KindDeviceUnavailable, err)
	}
	run.DeviceInfo = info

	if p.validator != nil {
		if err := p.validator.ValidateImage(req.Image.Size, info.Size); err != nil {
			return run, fail(KindDeviceUnavailable, err)
		}
	}
	if err := os.MkdirAll(p.opts.WorkDir, 0o755); err != nil {
		return run, fail(KindConversionFailed, err)
	}
	return run, nil
}

// Convert produces the raw image under the retry controller.
func (p *Pipeline) Convert(ctx context.Context, run *Run) error {
	p.transition(run, StateConverting)
	artifact := p.tool.OutputPath(run.Prefix)

	outcome, err := p.controller.Do(ctx, retry.Job{
		Phase:    string(StateConverting),
		Artifact: artifact,
		Total:    run.Image.Size,
		Reporter: p.reporter,
		Size:     p.tool.ArtifactSize,
		Prepare: func() error {
			return p.removeArtifacts(run)
		},
		Run: func(ctx context.Context) error {
			return p.tool.Convert(ctx, run.Image.Path, run.Prefix)
		},
	})
	run.Attempts = outcome.Attempts
	run.ConvertedBytes = outcome.Bytes
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail(KindConversionFailed, err)
	}

	info, err := os.Stat(artifact)
	if err != nil {
		return fail(KindConversionFailed, fmt.Errorf("converted image missing: %w", err))
	}
	run.Artifact = artifact
	run.BytesTotal = info.Size()
	run.ConvertedBytes = info.Size()

	slog.Info("conversion_complete", "run_id", run.ID, "artifact", artifact, "bytes", run.BytesTotal, "attempts", run.Attempts)
	return nil
}

// AwaitConfirmation asks the confirmer for the go-ahead. It is never retried.
func (p *Pipeline) AwaitConfirmation(ctx context.Context, run *Run) error {
	p.transition(run, StateAwaitingConfirmation)

	if p.validator != nil && run.DeviceInfo != nil {
		if err := p.validator.ValidateImage(run.BytesTotal, run.DeviceInfo.Size); err != nil {
			return fail(KindDeviceUnavailable, err)
		}
	}
	if p.confirmer == nil {
		return ErrDeclined
	}

	ok, err := p.confirmer.Confirm(ctx, Confirmation{
		RunID:  run.ID,
		Image:  run.Image,
		Device: run.DeviceInfo,
		Label:  p.opts.Label,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fail(KindCancelled, err)
	}
	if !ok {
		return ErrDeclined
	}

	slog.Info("device_confirmed", "run_id", run.ID, "device", run.Device)
	return nil
}

// Prepare unmounts, erases and unmounts the device again, checking the mount
// state before and after the erase.
func (p *Pipeline) Prepare(ctx context.Context, run *Run) error {
	p.transition(run, StatePreparing)

	if err := p.writer.EnsureUnmounted(ctx, run.Device); err != nil {
		return p.deviceError(ctx, err)
	}
	slog.Info("device_unmounted", "run_id", run.ID, "device", run.Device)

	if err := p.tool.Erase(ctx, run.Device, p.opts.Label); err != nil {
		if ctx.Err() != nil {
			run.Degraded = true
			run.warn(fmt.Sprintf("interrupted while erasing %s; the device may hold a partial filesystem until it is flashed again", run.Device))
			return ctx.Err()
		}
		return fail(KindDeviceUnavailable, err)
	}

	if err := p.writer.EnsureUnmounted(ctx, run.Device); err != nil {
		return p.deviceError(ctx, err)
	}
	return nil
}

func (p *Pipeline) deviceError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fail(KindDeviceUnavailable, err)
}

// Write streams the converted image to the device.
func (p *Pipeline) Write(ctx context.Context, run *Run) error {
	p.transition(run, StateWriting)

	written, err := p.writer.Write(ctx, run.Artifact, run.Device)
	run.BytesDone = written
	if err != nil {
		var stateErr *writer.DeviceStateError
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.As(err, &stateErr):
			return fail(KindDeviceUnavailable, err)
		default:
			return fail(KindWriteFailed, err)
		}
	}
	if written != run.BytesTotal {
		return fail(KindWriteFailed, fmt.Errorf("wrote %d of %d bytes", written, run.BytesTotal))
	}
	return nil
}

// Verify reads back the image prefix when configured and ejects the device.
// Only a read-back mismatch fails the run; eject failure is a warning.
func (p *Pipeline) Verify(ctx context.Context, run *Run) error {
	p.transition(run, StateVerifying)

	if p.opts.VerifyBytes > 0 {
		err := p.writer.VerifyPrefix(ctx, run.Artifact, run.Device, p.opts.VerifyBytes)
		var verifyErr *writer.VerifyError
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.As(err, &verifyErr):
			return fail(KindWriteFailed, err)
		default:
			slog.Warn("verify_skipped", "run_id", run.ID, "device", run.Device, "error", err)
			run.warn(fmt.Sprintf("read-back skipped: %v", err))
		}
	}

	run.ejectAttempted = true
	if err := p.writer.Finalize(ctx, run.Device); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		run.warn(fmt.Sprintf("eject failed: %v", err))
	}
	return nil
}
