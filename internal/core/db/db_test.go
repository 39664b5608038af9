package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestNew(t *testing.T) {
	// Use temp file for test DB
	tmpfile, err := os.CreateTemp("", "test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Remove(tmpfile.Name()) }()
	_ = tmpfile.Close()

	database, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = database.Close() }()

	// Should have: sessions, job_outcomes, snapshots (plus sqlite_sequence)
	var count int
	err = database.conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('sessions','job_outcomes','snapshots')").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query schema: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 tables, got %d", count)
	}
}

func TestNew_WALMode(t *testing.T) {
	database := openTestDB(t)

	var journalMode string
	if err := database.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected WAL mode, got %s", journalMode)
	}
}

func TestNew_ForeignKeys(t *testing.T) {
	database := openTestDB(t)

	var fkEnabled int
	if err := database.conn.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("Failed to query foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Errorf("Expected foreign keys enabled (1), got %d", fkEnabled)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	first, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = second.Close() }()

	var n int
	if err := second.conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('sessions') WHERE name='version'").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("version column count = %d, want 1", n)
	}
}

func sampleSession(id string, started time.Time, status models.SessionStatus) *models.Session {
	return &models.Session{
		ID:         id,
		StartedAt:  started,
		EndedAt:    started.Add(90 * time.Second),
		SourceHost: "laptop",
		TargetHost: "desktop",
		Status:     status,
		Outcomes: []models.JobOutcome{
			{Job: "dummy_success", Status: models.OutcomeSuccess, StartedAt: started, EndedAt: started.Add(time.Minute)},
			{Job: "dummy_fail", Status: models.OutcomeSkipped, StartedAt: started, EndedAt: started},
		},
		LogFile: "/tmp/sync-" + id + ".log",
	}
}

func TestSaveAndGetSession(t *testing.T) {
	database := openTestDB(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := sampleSession("0badcafe", started, models.StatusCompleted)
	snaps := []models.Snapshot{
		{Subvolume: "@", Phase: models.PhasePre, Timestamp: started, SessionID: s.ID, Role: models.RoleSource, Path: "/.snapshots/pcswitcher/x/@-pre"},
		{Subvolume: "@", Phase: models.PhasePre, Timestamp: started, SessionID: s.ID, Role: models.RoleTarget, Path: "/.snapshots/pcswitcher/x/@-pre"},
	}

	if err := database.SaveSession(s, snaps, "1.2.0"); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, gotSnaps, err := database.GetSession("0badcafe")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetSession() = nil")
	}
	if got.Status != models.StatusCompleted || got.TargetHost != "desktop" {
		t.Errorf("got %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if len(got.Outcomes) != 2 || got.Outcomes[0].Job != "dummy_success" || got.Outcomes[1].Status != models.OutcomeSkipped {
		t.Errorf("outcomes = %+v", got.Outcomes)
	}
	if len(gotSnaps) != 2 || gotSnaps[1].Role != models.RoleTarget {
		t.Errorf("snapshots = %+v", gotSnaps)
	}

	missing, _, err := database.GetSession("ffffffff")
	if err != nil || missing != nil {
		t.Errorf("GetSession(unknown) = %v, %v", missing, err)
	}
}

func TestSaveSessionReplaces(t *testing.T) {
	database := openTestDB(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := sampleSession("0badcafe", started, models.StatusFailed)
	if err := database.SaveSession(s, nil, ""); err != nil {
		t.Fatal(err)
	}

	s.Outcomes = s.Outcomes[:1]
	s.Error = "boom"
	s.FailedJob = "dummy_success"
	if err := database.SaveSession(s, nil, ""); err != nil {
		t.Fatalf("second SaveSession() error = %v", err)
	}

	rows, err := database.ListSessions(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("ListSessions() returned %d rows, want 1", len(rows))
	}
	if rows[0].JobCount != 1 || rows[0].Error != "boom" || rows[0].FailedJob != "dummy_success" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestListSessionsOrder(t *testing.T) {
	database := openTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ids := []string{"00000001", "00000002", "00000003"}
	for i, id := range ids {
		if err := database.SaveSession(sampleSession(id, base.Add(time.Duration(i)*time.Hour), models.StatusCompleted), nil, ""); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := database.ListSessions(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].SessionID != "00000003" || rows[1].SessionID != "00000002" {
		t.Errorf("order = %s, %s", rows[0].SessionID, rows[1].SessionID)
	}
	if rows[0].Duration() != 90*time.Second {
		t.Errorf("Duration() = %v", rows[0].Duration())
	}
}

func TestLatestWithSnapshots(t *testing.T) {
	database := openTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	id, err := database.LatestWithSnapshots()
	if err != nil || id != "" {
		t.Fatalf("empty db: %q, %v", id, err)
	}

	withSnap := sampleSession("00000001", base, models.StatusCompleted)
	pre := models.Snapshot{Subvolume: "@", Phase: models.PhasePre, Timestamp: base, Role: models.RoleTarget, Path: "/p"}
	if err := database.SaveSession(withSnap, []models.Snapshot{pre}, ""); err != nil {
		t.Fatal(err)
	}
	// Newer session that aborted before any snapshot
	if err := database.SaveSession(sampleSession("00000002", base.Add(time.Hour), models.StatusAborted), nil, ""); err != nil {
		t.Fatal(err)
	}

	id, err = database.LatestWithSnapshots()
	if err != nil {
		t.Fatal(err)
	}
	if id != "00000001" {
		t.Errorf("LatestWithSnapshots() = %q, want 00000001", id)
	}
}

func TestGetStats(t *testing.T) {
	database := openTestDB(t)

	empty, err := database.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if empty.TotalSessions != 0 {
		t.Errorf("TotalSessions = %d", empty.TotalSessions)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_ = database.SaveSession(sampleSession("00000001", base, models.StatusCompleted), nil, "")
	_ = database.SaveSession(sampleSession("00000002", base.Add(time.Hour), models.StatusCompleted), nil, "")
	_ = database.SaveSession(sampleSession("00000003", base.Add(2*time.Hour), models.StatusFailed), nil, "")

	stats, err := database.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalSessions != 3 {
		t.Errorf("TotalSessions = %d, want 3", stats.TotalSessions)
	}
	if stats.ByStatus["completed"] != 2 || stats.ByStatus["failed"] != 1 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
	if len(stats.Jobs) != 2 || stats.Jobs[1].Job != "dummy_success" || stats.Jobs[1].Success != 3 {
		t.Errorf("Jobs = %+v", stats.Jobs)
	}
	if stats.MostSynced != "desktop" || stats.MostSyncedN != 3 {
		t.Errorf("MostSynced = %s (%d)", stats.MostSynced, stats.MostSyncedN)
	}
	if !stats.OldestSession.Equal(base) {
		t.Errorf("OldestSession = %v", stats.OldestSession)
	}
	if stats.AvgCompleted != 90*time.Second {
		t.Errorf("AvgCompleted = %v", stats.AvgCompleted)
	}
}
