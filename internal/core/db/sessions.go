package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// SessionRow is one line of sync history
type SessionRow struct {
	SessionID  string
	SourceHost string
	TargetHost string
	Status     models.SessionStatus
	StartedAt  time.Time
	EndedAt    time.Time
	FailedJob  string
	Error      string
	LogFile    string
	Version    string
	JobCount   int
}

// Duration is zero for sessions that never finished
func (r SessionRow) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	formats := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s.String); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveSession writes a session with its outcomes and snapshots, replacing
// any earlier copy of the same session
func (db *DB) SaveSession(s *models.Session, snapshots []models.Snapshot, version string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		INSERT INTO sessions
		(session_id, source_host, target_host, status, started_at, ended_at, failed_job, error, log_file, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			ended_at = excluded.ended_at,
			failed_job = excluded.failed_job,
			error = excluded.error,
			log_file = excluded.log_file,
			version = excluded.version
	`, s.ID, s.SourceHost, s.TargetHost, string(s.Status), formatTime(s.StartedAt), formatTime(s.EndedAt),
		nullString(s.FailedJob), nullString(s.Error), nullString(s.LogFile), nullString(version))
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	var rowID int64
	if err := tx.QueryRow(`SELECT id FROM sessions WHERE session_id = ?`, s.ID).Scan(&rowID); err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM job_outcomes WHERE session_id = ?`, rowID); err != nil {
		return fmt.Errorf("clear outcomes: %w", err)
	}
	for i, o := range s.Outcomes {
		_, err = tx.Exec(`
			INSERT INTO job_outcomes (session_id, position, job, status, started_at, ended_at, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rowID, i, o.Job, string(o.Status), formatTime(o.StartedAt), formatTime(o.EndedAt), nullString(o.Error))
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Job, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM snapshots WHERE session_id = ?`, rowID); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	for _, snap := range snapshots {
		_, err = tx.Exec(`
			INSERT INTO snapshots (session_id, role, subvolume, phase, path, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rowID, string(snap.Role), snap.Subvolume, string(snap.Phase), snap.Path, formatTime(snap.Timestamp))
		if err != nil {
			return fmt.Errorf("insert snapshot %s: %w", snap.Name(), err)
		}
	}

	return tx.Commit()
}

// ListSessions returns the most recent sessions first
func (db *DB) ListSessions(limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.Query(`
		SELECT
			s.session_id, s.source_host, s.target_host, s.status,
			s.started_at, s.ended_at, s.failed_job, s.error, s.log_file, s.version,
			(SELECT COUNT(*) FROM job_outcomes WHERE session_id = s.id) AS job_count
		FROM sessions s
		ORDER BY s.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var sessions []SessionRow
	for rows.Next() {
		r, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row scanner) (SessionRow, error) {
	var r SessionRow
	var status string
	var started, ended, failedJob, errMsg, logFile, version sql.NullString
	err := row.Scan(&r.SessionID, &r.SourceHost, &r.TargetHost, &status,
		&started, &ended, &failedJob, &errMsg, &logFile, &version, &r.JobCount)
	if err != nil {
		return r, err
	}
	r.Status = models.SessionStatus(status)
	r.StartedAt = parseTime(started)
	r.EndedAt = parseTime(ended)
	r.FailedJob = failedJob.String
	r.Error = errMsg.String
	r.LogFile = logFile.String
	r.Version = version.String
	return r, nil
}

// GetSession loads one session with its outcomes and snapshots. It
// returns nil when the ID is unknown.
func (db *DB) GetSession(sessionID string) (*models.Session, []models.Snapshot, error) {
	row := db.QueryRow(`
		SELECT
			s.session_id, s.source_host, s.target_host, s.status,
			s.started_at, s.ended_at, s.failed_job, s.error, s.log_file, s.version,
			(SELECT COUNT(*) FROM job_outcomes WHERE session_id = s.id) AS job_count
		FROM sessions s
		WHERE s.session_id = ?
	`, sessionID)
	r, err := scanSessionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	s := &models.Session{
		ID:         r.SessionID,
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		SourceHost: r.SourceHost,
		TargetHost: r.TargetHost,
		Status:     r.Status,
		Error:      r.Error,
		FailedJob:  r.FailedJob,
		LogFile:    r.LogFile,
	}

	rows, err := db.Query(`
		SELECT o.job, o.status, o.started_at, o.ended_at, o.error
		FROM job_outcomes o JOIN sessions s ON s.id = o.session_id
		WHERE s.session_id = ?
		ORDER BY o.position
	`, sessionID)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var o models.JobOutcome
		var status string
		var started, ended, errMsg sql.NullString
		if err := rows.Scan(&o.Job, &status, &started, &ended, &errMsg); err != nil {
			_ = rows.Close()
			return nil, nil, err
		}
		o.Status = models.OutcomeStatus(status)
		o.StartedAt = parseTime(started)
		o.EndedAt = parseTime(ended)
		o.Error = errMsg.String
		s.Outcomes = append(s.Outcomes, o)
	}
	_ = rows.Close()

	rows, err = db.Query(`
		SELECT p.role, p.subvolume, p.phase, p.path, p.created_at
		FROM snapshots p JOIN sessions s ON s.id = p.session_id
		WHERE s.session_id = ?
		ORDER BY p.id
	`, sessionID)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var snapshots []models.Snapshot
	for rows.Next() {
		var snap models.Snapshot
		var role, phase string
		var created sql.NullString
		if err := rows.Scan(&role, &snap.Subvolume, &phase, &snap.Path, &created); err != nil {
			return nil, nil, err
		}
		snap.Role = models.MachineRole(role)
		snap.Phase = models.SnapshotPhase(phase)
		snap.Timestamp = parseTime(created)
		snap.SessionID = sessionID
		snapshots = append(snapshots, snap)
	}
	return s, snapshots, rows.Err()
}

// LatestWithSnapshots returns the most recent session that has pre
// snapshots, the default target of a rollback
func (db *DB) LatestWithSnapshots() (string, error) {
	var id string
	err := db.QueryRow(`
		SELECT s.session_id FROM sessions s
		WHERE EXISTS (SELECT 1 FROM snapshots p WHERE p.session_id = s.id AND p.phase = 'pre')
		ORDER BY s.started_at DESC
		LIMIT 1
	`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}
