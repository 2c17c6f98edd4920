package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StartStageRun records a running attempt at stage for an event and returns
// its id.
func (db *DB) StartStageRun(eventKey string, stage int) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		`INSERT INTO stage_runs (id, event_key, stage, status) VALUES (?, ?, ?, ?)`,
		id, eventKey, stage, StatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("recording stage %d start: %w", stage, err)
	}
	db.log.Debug("stage run started", zap.String("run", id), zap.String("event", eventKey), zap.Int("stage", stage))
	return id, nil
}

// FinishStageRun closes a run with its final status.
func (db *DB) FinishStageRun(id string, status RunStatus, summary, errMsg string) error {
	res, err := db.conn.Exec(
		`UPDATE stage_runs
		SET status = ?, summary = NULLIF(?, ''), error = NULLIF(?, ''),
		    finished_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		WHERE id = ?`,
		status, summary, errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("recording run %s finish: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no stage run %s", id)
	}
	return nil
}

const runColumns = `id, event_key, stage, status, summary, error, started_at, finished_at`

func scanRun(s interface{ Scan(...any) error }) (*StageRun, error) {
	var r StageRun
	if err := s.Scan(&r.ID, &r.EventKey, &r.Stage, &r.Status, &r.Summary, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// LastStageRun returns the most recent run of stage for an event, or nil if
// the stage never ran.
func (db *DB) LastStageRun(eventKey string, stage int) (*StageRun, error) {
	row := db.conn.QueryRow(
		`SELECT `+runColumns+` FROM stage_runs
		WHERE event_key = ? AND stage = ?
		ORDER BY started_at DESC, rowid DESC LIMIT 1`,
		eventKey, stage,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// StageRuns returns every run for an event, oldest first.
func (db *DB) StageRuns(eventKey string) ([]StageRun, error) {
	rows, err := db.conn.Query(
		`SELECT `+runColumns+` FROM stage_runs WHERE event_key = ? ORDER BY started_at, rowid`,
		eventKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []StageRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DoneStages returns the stages with at least one completed run.
func (db *DB) DoneStages(eventKey string) (map[int]bool, error) {
	rows, err := db.conn.Query(
		`SELECT DISTINCT stage FROM stage_runs WHERE event_key = ? AND status = ?`,
		eventKey, StatusDone,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := map[int]bool{}
	for rows.Next() {
		var stage int
		if err := rows.Scan(&stage); err != nil {
			return nil, err
		}
		done[stage] = true
	}
	return done, rows.Err()
}

// Progress returns the highest stage N such that stages 1 through N all
// have a completed run. Zero means not started.
func (db *DB) Progress(eventKey string) (int, error) {
	done, err := db.DoneStages(eventKey)
	if err != nil {
		return 0, err
	}
	n := 0
	for done[n+1] {
		n++
	}
	return n, nil
}

// RunEvents returns every event with at least one recorded run.
func (db *DB) RunEvents() ([]string, error) {
	rows, err := db.conn.Query("SELECT DISTINCT event_key FROM stage_runs ORDER BY event_key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(DISTINCT event_key) FROM stage_runs", &s.Events},
		{"SELECT COUNT(*) FROM stage_runs", &s.StageRuns},
		{"SELECT COUNT(*) FROM stage_runs WHERE status = 'failed'", &s.FailedRuns},
		{"SELECT COUNT(*) FROM archive_batches", &s.ArchivedEvents},
		{"SELECT COUNT(*) FROM archive_records", &s.ArchivedRows},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
