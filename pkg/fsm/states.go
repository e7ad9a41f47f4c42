package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/isoflash/isoflash/pkg/pipeline"
	"github.com/superfly/fsm"
)

type stepFunc func(ctx context.Context, run *pipeline.Run) error

// runStep executes one pipeline step for the workflow's run. Errors are
// recorded for Flash and abort the workflow.
func (m *Machine) runStep(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse], name string, step stepFunc) (*fsm.Response[FlashResponse], error) {
	runID := req.Msg.RunID
	slog.Info("fsm_state_"+name, "run_id", runID, "device", req.Msg.Device)

	if retryCount := fsm.RetryFromContext(ctx); retryCount > 0 {
		err := fmt.Errorf("refusing to replay %s for run %s (retry %d)", name, runID, retryCount)
		m.fail(runID, err)
		return nil, fsm.Abort(err)
	}

	active := m.lookup(runID)
	if active == nil {
		slog.Error("fsm_run_not_active", "run_id", runID, "state", name)
		return nil, fsm.Abort(fmt.Errorf("run %s is not active in this process", runID))
	}

	resp := req.W.Msg
	if resp == nil {
		resp = &FlashResponse{}
	}

	stepCtx, cancel := mergeCancel(ctx, active.ctx)
	defer cancel()

	err := step(stepCtx, active.run)

	resp.State = string(active.run.State)
	resp.BytesWritten = active.run.BytesDone
	resp.BytesTotal = active.run.BytesTotal
	resp.Attempts = active.run.Attempts

	if err != nil {
		slog.Error("fsm_step_failed", "run_id", runID, "state", name, "error", err)
		resp.Message = err.Error()
		m.fail(runID, err)
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handleConvert(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	return m.runStep(ctx, req, StateConverting, m.pipeline.Convert)
}

func (m *Machine) handleConfirm(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	return m.runStep(ctx, req, StateAwaitingConfirmation, m.pipeline.AwaitConfirmation)
}

func (m *Machine) handlePrepare(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	return m.runStep(ctx, req, StatePreparing, m.pipeline.Prepare)
}

func (m *Machine) handleWrite(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	return m.runStep(ctx, req, StateWriting, m.pipeline.Write)
}

func (m *Machine) handleVerify(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	return m.runStep(ctx, req, StateVerifying, m.pipeline.Verify)
}

// handleDone only publishes the final counters; Finish does the rest.
func (m *Machine) handleDone(ctx context.Context, req *fsm.Request[FlashRequest, FlashResponse]) (*fsm.Response[FlashResponse], error) {
	return m.runStep(ctx, req, StateDone, func(context.Context, *pipeline.Run) error { return nil })
}
