package db

import (
	"fmt"
)

// runMigrations applies database migrations for existing databases
func (db *DB) runMigrations() error {
	// Migration 1: record which pcswitcher version ran the session
	if err := db.migration001AddVersion(); err != nil {
		return fmt.Errorf("migration 001: %w", err)
	}

	return nil
}

// migration001AddVersion adds sessions.version if it is missing
func (db *DB) migration001AddVersion() error {
	var hasVersion bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('sessions')
		WHERE name='version'
	`).Scan(&hasVersion)
	if err != nil {
		return err
	}

	if !hasVersion {
		_, err = db.conn.Exec(`ALTER TABLE sessions ADD COLUMN version TEXT`)
		if err != nil {
			return fmt.Errorf("add version column: %w", err)
		}
	}
	return nil
}
