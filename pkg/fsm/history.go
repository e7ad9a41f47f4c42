package fsm

import (
	"log/slog"

	"github.com/isoflash/isoflash/pkg/db"
	"github.com/isoflash/isoflash/pkg/pipeline"
)

// History mirrors pipeline runs into the runs table. It implements
// pipeline.Observer.
type History struct {
	repo *db.Repository
}

func NewHistory(repo *db.Repository) *History {
	return &History{repo: repo}
}

var _ pipeline.Observer = (*History)(nil)

// Record creates the row for a freshly begun run.
func (h *History) Record(run *pipeline.Run) error {
	return h.repo.CreateRun(toRecord(run))
}

func (h *History) Transition(run *pipeline.Run, from, to pipeline.State) {
	if err := h.repo.UpdateRun(toRecord(run)); err != nil {
		slog.Warn("run_history_update_failed", "run_id", run.ID, "from", from, "to", to, "error", err)
	}
}

func (h *History) Finished(run *pipeline.Run, result pipeline.Result) {
	rec := toRecord(run)
	rec.Result = string(result.Kind)
	rec.Message = result.Message
	if err := h.repo.UpdateRun(rec); err != nil {
		slog.Warn("run_history_update_failed", "run_id", run.ID, "result", result.Kind, "error", err)
	}
}

func toRecord(run *pipeline.Run) *db.Run {
	rec := &db.Run{
		RunID:        run.ID,
		Device:       run.Device,
		State:        string(run.State),
		BytesWritten: run.BytesDone,
		BytesTotal:   run.BytesTotal,
	}
	if run.Image != nil {
		rec.SourcePath = run.Image.Path
	}
	return rec
}
