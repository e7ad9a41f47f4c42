package db

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/isoflash/isoflash/pkg/errors"
	_ "modernc.org/sqlite"
)

// Repository provides database operations for runs and settings
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new repository
func NewRepository(dbPath string) (*Repository, error) {
	slog.Info("database_init", "db_path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		slog.Error("database_open_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// The fsm observer and the CLI share this handle.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		slog.Error("database_schema_failed", "db_path", dbPath, "error", err)
		return nil, errors.Wrap(err, "failed to create schema")
	}

	slog.Info("database_ready", "db_path", dbPath)
	return &Repository{db: db}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

const runColumns = `id, run_id, source_path, device, state, result,
       bytes_written, bytes_total, message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var result, message sql.NullString
	err := s.Scan(
		&run.ID, &run.RunID, &run.SourcePath, &run.Device, &run.State, &result,
		&run.BytesWritten, &run.BytesTotal, &message, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Result = result.String
	run.Message = message.String
	return &run, nil
}

// CreateRun inserts a new run record
func (r *Repository) CreateRun(run *Run) error {
	if run.State == "" {
		run.State = StateIdle
	}
	slog.Info("database_create_run", "run_id", run.RunID, "device", run.Device, "state", run.State)

	query := `
		INSERT INTO runs (run_id, source_path, device, state, result, bytes_written, bytes_total, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.Exec(query,
		run.RunID, run.SourcePath, run.Device, run.State,
		nullable(run.Result), run.BytesWritten, run.BytesTotal, nullable(run.Message))
	if err != nil {
		slog.Error("database_insert_failed", "run_id", run.RunID, "error", err)
		return errors.Wrap(err, "failed to insert run")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to get last insert id")
	}
	run.ID = id

	slog.Info("database_run_created", "run_id", run.RunID, "id", run.ID)
	return nil
}

// GetRun retrieves a run by its run identifier. It returns nil when absent.
func (r *Repository) GetRun(runID string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE run_id = ?`

	run, err := scanRun(r.db.QueryRow(query, runID))
	if err == sql.ErrNoRows {
		slog.Info("database_run_not_found", "run_id", runID)
		return nil, nil
	}
	if err != nil {
		slog.Error("database_query_failed", "run_id", runID, "error", err)
		return nil, errors.Wrap(err, "failed to query run")
	}
	return run, nil
}

// UpdateRun stores the mutable fields of run
func (r *Repository) UpdateRun(run *Run) error {
	slog.Debug("database_update_run", "run_id", run.RunID, "state", run.State, "bytes_written", run.BytesWritten)

	query := `
		UPDATE runs
		SET device = ?, state = ?, result = ?, bytes_written = ?, bytes_total = ?, message = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE run_id = ?
	`
	result, err := r.db.Exec(query,
		run.Device, run.State, nullable(run.Result), run.BytesWritten, run.BytesTotal,
		nullable(run.Message), run.RunID)
	if err != nil {
		slog.Error("database_update_failed", "run_id", run.RunID, "error", err)
		return errors.Wrap(err, "failed to update run")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		slog.Error("database_run_not_found_for_update", "run_id", run.RunID)
		return fmt.Errorf("run not found: %s", run.RunID)
	}

	slog.Info("database_run_updated", "run_id", run.RunID, "state", run.State, "result", run.Result)
	return nil
}

// ListRuns returns runs newest first. A limit <= 0 returns all of them.
func (r *Repository) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		slog.Error("database_list_query_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			slog.Error("database_scan_row_failed", "error", err)
			return nil, errors.Wrap(err, "failed to scan row")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	slog.Debug("database_list_complete", "run_count", len(runs))
	return runs, nil
}

// DeleteRun deletes a run by its run identifier
func (r *Repository) DeleteRun(runID string) error {
	slog.Info("database_delete_run", "run_id", runID)

	if _, err := r.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		slog.Error("database_delete_failed", "run_id", runID, "error", err)
		return errors.Wrap(err, "failed to delete run")
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
