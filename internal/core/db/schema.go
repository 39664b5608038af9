package db

func (db *DB) initSchema() error {
	schema := `
	-- One row per sync attempt
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT UNIQUE NOT NULL,
		source_host TEXT NOT NULL,
		target_host TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		failed_job TEXT,
		error TEXT,
		log_file TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_target_host ON sessions(target_host);

	-- Job outcomes in execution order
	CREATE TABLE IF NOT EXISTS job_outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		job TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at DATETIME,
		ended_at DATETIME,
		error TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE,
		UNIQUE(session_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_job_outcomes_job ON job_outcomes(job);

	-- Snapshots created by a session, for rollback lookups
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		subvolume TEXT NOT NULL,
		phase TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}
