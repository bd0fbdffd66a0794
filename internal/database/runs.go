package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when no history row has the requested ID.
var ErrRunNotFound = errors.New("run not found")

const runColumns = `id, source_name, source_size, frame_offset, brightness, phase, error,
	frames, skipped, width, height, frame_rate, output_bytes, mime_type, created_at, finished_at`

// CreateRun inserts a new run in its starting phase.
func (d *Database) CreateRun(ctx context.Context, run *RunRecord) (err error) {
	start := time.Now()
	defer func() { recordQuery("create_run", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO runs (id, source_name, source_size, frame_offset, brightness, phase, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SourceName, run.SourceSize, run.FrameOffset, run.Brightness, run.Phase, run.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// UpdateRunPhase records a non-terminal phase change.
func (d *Database) UpdateRunPhase(ctx context.Context, id, phase string) (err error) {
	start := time.Now()
	defer func() { recordQuery("update_run_phase", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx,
		"UPDATE runs SET phase = ? WHERE id = ? AND finished_at IS NULL", phase, id)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// FinishRun stores the terminal outcome of a run. A run is finished at most once.
func (d *Database) FinishRun(ctx context.Context, id string, res RunResult) (err error) {
	start := time.Now()
	defer func() { recordQuery("finish_run", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var errText *string
	if res.Error != "" {
		errText = &res.Error
	}
	var mime *string
	if res.MIMEType != "" {
		mime = &res.MIMEType
	}

	result, err := d.db.ExecContext(ctx, `
		UPDATE runs SET
			phase = ?, error = ?, frames = ?, skipped = ?, width = ?, height = ?,
			frame_rate = ?, output_bytes = ?, mime_type = ?, finished_at = ?
		WHERE id = ? AND finished_at IS NULL
	`, res.Phase, errText, res.Frames, res.Skipped, res.Width, res.Height,
		res.FrameRate, res.OutputBytes, mime, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun returns a single run.
func (d *Database) GetRun(ctx context.Context, id string) (_ *RunRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("get_run", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *Database) ListRuns(ctx context.Context, limit int) (_ []RunRecord, err error) {
	start := time.Now()
	defer func() { recordQuery("list_runs", start, err) }()

	if limit <= 0 {
		limit = 50
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRunsBefore prunes finished runs created before cutoff.
func (d *Database) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (_ int64, err error) {
	start := time.Now()
	defer func() { recordQuery("delete_runs", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx,
		"DELETE FROM runs WHERE created_at < ? AND finished_at IS NOT NULL", cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetHistoryStats counts runs by outcome.
func (d *Database) GetHistoryStats(ctx context.Context) (_ HistoryStats, err error) {
	start := time.Now()
	defer func() { recordQuery("history_stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stats HistoryStats
	err = d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN phase = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN phase = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN phase = 'canceled' THEN 1 ELSE 0 END), 0)
		FROM runs
	`).Scan(&stats.TotalRuns, &stats.CompletedRuns, &stats.FailedRuns, &stats.CanceledRuns)
	return stats, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		run        RunRecord
		errText    sql.NullString
		mime       sql.NullString
		createdAt  int64
		finishedAt sql.NullInt64
	)

	if err := row.Scan(
		&run.ID, &run.SourceName, &run.SourceSize, &run.FrameOffset, &run.Brightness,
		&run.Phase, &errText, &run.Frames, &run.Skipped, &run.Width, &run.Height,
		&run.FrameRate, &run.OutputBytes, &mime, &createdAt, &finishedAt,
	); err != nil {
		return nil, err
	}

	run.Error = errText.String
	run.MIMEType = mime.String
	run.CreatedAt = time.Unix(createdAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}
	return &run, nil
}
