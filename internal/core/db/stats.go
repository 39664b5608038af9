package db

import (
	"database/sql"
	"time"
)

// JobStats summarises one job's outcomes across all sessions
type JobStats struct {
	Job     string
	Success int
	Failed  int
	Skipped int
}

// Stats represents database statistics
type Stats struct {
	TotalSessions int
	ByStatus      map[string]int
	Jobs          []JobStats
	OldestSession time.Time
	NewestSession time.Time
	MostSynced    string // Target host with the most sessions
	MostSyncedN   int
	AvgCompleted  time.Duration
}

// GetStats returns session and job outcome statistics
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{ByStatus: make(map[string]int)}

	err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&stats.TotalSessions)
	if err != nil {
		return nil, err
	}
	if stats.TotalSessions == 0 {
		return stats, nil
	}

	rows, err := db.Query("SELECT status, COUNT(*) FROM sessions GROUP BY status")
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	_ = rows.Close()

	rows, err = db.Query(`
		SELECT job,
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END)
		FROM job_outcomes
		GROUP BY job
		ORDER BY job
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var j JobStats
		if err := rows.Scan(&j.Job, &j.Success, &j.Failed, &j.Skipped); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stats.Jobs = append(stats.Jobs, j)
	}
	_ = rows.Close()

	var oldest, newest sql.NullString
	err = db.QueryRow("SELECT MIN(started_at), MAX(started_at) FROM sessions").Scan(&oldest, &newest)
	if err != nil {
		return nil, err
	}
	stats.OldestSession = parseTime(oldest)
	stats.NewestSession = parseTime(newest)

	var host sql.NullString
	err = db.QueryRow(`
		SELECT target_host, COUNT(*) as count
		FROM sessions
		GROUP BY target_host
		ORDER BY count DESC
		LIMIT 1
	`).Scan(&host, &stats.MostSyncedN)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	stats.MostSynced = host.String

	// Durations are computed in Go since timestamps are stored as text
	rows, err = db.Query("SELECT started_at, ended_at FROM sessions WHERE status = 'completed' AND ended_at IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var total time.Duration
	var n int
	for rows.Next() {
		var started, ended sql.NullString
		if err := rows.Scan(&started, &ended); err != nil {
			return nil, err
		}
		s, e := parseTime(started), parseTime(ended)
		if !s.IsZero() && !e.IsZero() {
			total += e.Sub(s)
			n++
		}
	}
	if n > 0 {
		stats.AvgCompleted = total / time.Duration(n)
	}
	return stats, rows.Err()
}
