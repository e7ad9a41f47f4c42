// Package fsm drives a flash run through the superfly/fsm workflow engine.
// Each transition delegates to one pipeline step; any failure aborts the
// workflow so destructive steps are never replayed by the engine.
package fsm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/isoflash/isoflash/pkg/errors"
	"github.com/isoflash/isoflash/pkg/pipeline"
	"github.com/superfly/fsm"
)

const workflowName = "flash-image"

// activeRun is the in-process half of a workflow: the pipeline run record and
// the caller's context, which carries user cancellation.
type activeRun struct {
	ctx context.Context
	run *pipeline.Run
	err error
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	pipeline *pipeline.Pipeline
	history  *History
	manager  *fsm.Manager
	start    fsm.Start[FlashRequest, FlashResponse]

	mu     sync.Mutex
	active map[string]*activeRun
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(p *pipeline.Pipeline, history *History) *Machine {
	return &Machine{
		pipeline: p,
		history:  history,
		active:   make(map[string]*activeRun),
	}
}

// Register registers the flash workflow
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) error {
	start, _, err := fsm.Register[FlashRequest, FlashResponse](manager, workflowName).
		Start(StateConverting, m.handleConvert).
		To(StateAwaitingConfirmation, m.handleConfirm).
		To(StatePreparing, m.handlePrepare).
		To(StateWriting, m.handleWrite).
		To(StateVerifying, m.handleVerify).
		To(StateDone, m.handleDone).
		End(StateFailed).
		Build(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to register FSM")
	}

	m.manager = manager
	m.start = start
	return nil
}

// Flash runs one request through the workflow and returns its result.
// Cleanup and the terminal transition always happen here, after Wait.
func (m *Machine) Flash(ctx context.Context, req pipeline.Request) pipeline.Result {
	run, err := m.pipeline.Begin(ctx, req)
	if m.history != nil {
		if herr := m.history.Record(run); herr != nil {
			slog.Warn("run_history_unavailable", "run_id", run.ID, "error", herr)
		}
	}
	if err != nil {
		return m.pipeline.Finish(ctx, run, err)
	}
	if m.start == nil {
		return m.pipeline.Finish(ctx, run, errors.New("flash workflow not registered"))
	}

	m.track(ctx, run)
	defer m.untrack(run.ID)

	flashReq := &FlashRequest{RunID: run.ID, SourcePath: run.Image.Path, Device: run.Device}
	resp := &FlashResponse{}

	version, err := m.start(ctx, run.ID, fsm.NewRequest(flashReq, resp))
	if err != nil {
		slog.Error("fsm_start_failed", "run_id", run.ID, "error", err)
		return m.pipeline.Finish(ctx, run, errors.Wrap(err, "FSM start failed"))
	}
	slog.Info("fsm_started", "run_id", run.ID, "version", version)

	// The workflow reacts to cancellation through the step context; waiting
	// must outlive it so cleanup sees the final state.
	waitErr := m.manager.Wait(context.WithoutCancel(ctx), version)

	stepErr := m.stepError(run.ID)
	if stepErr == nil && waitErr != nil && run.State != pipeline.StateVerifying {
		stepErr = errors.Wrap(waitErr, "FSM execution failed")
	}
	return m.pipeline.Finish(ctx, run, stepErr)
}

func (m *Machine) track(ctx context.Context, run *pipeline.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[run.ID] = &activeRun{ctx: ctx, run: run}
}

func (m *Machine) untrack(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, runID)
}

func (m *Machine) lookup(runID string) *activeRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[runID]
}

func (m *Machine) fail(runID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.active[runID]; a != nil && a.err == nil {
		a.err = err
	}
}

func (m *Machine) stepError(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := m.active[runID]; a != nil {
		return a.err
	}
	return nil
}

// mergeCancel returns a context derived from base that is also cancelled
// when other is.
func mergeCancel(base, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(base)
	stop := context.AfterFunc(other, func() {
		cancel(context.Cause(other))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
