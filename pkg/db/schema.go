package db

// Schema holds the settings record and one row per flash run.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    source_path TEXT NOT NULL,
    device TEXT NOT NULL,
    state TEXT NOT NULL CHECK(state IN ('idle', 'converting', 'awaiting_device_confirmation', 'preparing', 'writing', 'verifying', 'done', 'failed', 'cancelled')),
    result TEXT,
    bytes_written INTEGER NOT NULL DEFAULT 0,
    bytes_total INTEGER NOT NULL DEFAULT 0,
    message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Setting keys
const (
	SettingLastDevice = "last_device"
)

// Run states mirrored from the pipeline; terminal ones end a run.
const (
	StateIdle      = "idle"
	StateDone      = "done"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Run is a flash run record
type Run struct {
	ID           int64
	RunID        string
	SourcePath   string
	Device       string
	State        string
	Result       string
	BytesWritten int64
	BytesTotal   int64
	Message      string
	CreatedAt    string
	UpdatedAt    string
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.State == StateDone || r.State == StateFailed || r.State == StateCancelled
}
