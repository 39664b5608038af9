package snapshot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/executor/executortest"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

func newTestManager(fake *executortest.Fake) *Manager {
	return NewManager(fake, models.RoleTarget, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateSnapshot(t *testing.T) {
	fake := executortest.New().
		On("findmnt", executortest.Reply(0, "/home\n", ""))
	m := newTestManager(fake)

	started := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	snap, err := m.Create(context.Background(), "abcd1234", started, "@home", models.PhasePre)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	wantDir := "/.snapshots/pcswitcher/20250601T100000-abcd1234"
	if !strings.HasPrefix(snap.Path, wantDir+"/@home-pre-") {
		t.Errorf("unexpected path %s", snap.Path)
	}
	if snap.Role != models.RoleTarget {
		t.Errorf("role = %s", snap.Role)
	}
	if fake.Count("btrfs subvolume snapshot -r '/home' ") != 1 {
		t.Errorf("expected a read-only snapshot of /home, got %v", fake.Commands())
	}
}

func TestCreateFailsForUnmountedSubvolume(t *testing.T) {
	fake := executortest.New().On("findmnt", executortest.Reply(1, "", ""))
	m := newTestManager(fake)
	if _, err := m.Create(context.Background(), "abcd1234", time.Now(), "@missing", models.PhasePre); err == nil {
		t.Fatal("expected error for unmounted subvolume")
	}
	if fake.Count("btrfs subvolume snapshot") != 0 {
		t.Error("no snapshot should be attempted")
	}
}

func TestEnsureRoot(t *testing.T) {
	tests := []struct {
		name       string
		rootExists bool
		wantCreate bool
	}{
		{"existing root", true, false},
		{"missing root", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit := 1
			if tt.rootExists {
				exit = 0
			}
			fake := executortest.New().On("test -e", executortest.Reply(exit, "", ""))
			if err := newTestManager(fake).EnsureRoot(context.Background()); err != nil {
				t.Fatalf("EnsureRoot failed: %v", err)
			}
			created := fake.Count("btrfs subvolume create '/.snapshots'") == 1
			if created != tt.wantCreate {
				t.Errorf("created = %v, want %v", created, tt.wantCreate)
			}
		})
	}
}

func TestCheckCollectsEveryProblem(t *testing.T) {
	fake := executortest.New().
		On("command -v btrfs", executortest.Reply(1, "", "")).
		On("findmnt", executortest.Reply(1, "", "")).
		On("test -e", executortest.Reply(0, "", "")).
		On("btrfs subvolume show", executortest.Reply(1, "", ""))

	problems := newTestManager(fake).Check(context.Background(), []string{"@", "@home"})
	// btrfs missing, two unmounted subvolumes, root not a subvolume
	if len(problems) != 4 {
		t.Fatalf("expected 4 problems, got %d: %v", len(problems), problems)
	}
}

func TestParseListing(t *testing.T) {
	output := strings.Join([]string{
		"20250601T100000-abcd1234",
		"20250601T100000-abcd1234/@-pre-20250601T100001-abcd1234",
		"20250601T100000-abcd1234/@-post-20250601T101500-abcd1234",
		"20250501T080000-00001111",
		"20250501T080000-00001111/@home-pre-20250501T080002-00001111",
		"not-a-session",
		"20250601T100000-abcd1234/stray-file",
	}, "\n")

	sessions := parseListing("/.snapshots/pcswitcher", models.RoleSource, output)
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "00001111" || sessions[1].ID != "abcd1234" {
		t.Errorf("sessions not sorted oldest first: %s, %s", sessions[0].ID, sessions[1].ID)
	}
	if len(sessions[1].Snapshots) != 2 || len(sessions[1].Pre()) != 1 {
		t.Errorf("unexpected snapshots: %+v", sessions[1].Snapshots)
	}
	if got := sessions[1].Pre()[0].Path; got != "/.snapshots/pcswitcher/20250601T100000-abcd1234/@-pre-20250601T100001-abcd1234" {
		t.Errorf("path = %s", got)
	}
}

func TestPlanRollback(t *testing.T) {
	listing := "20250601T100000-abcd1234\n" +
		"20250601T100000-abcd1234/@-pre-20250601T100001-abcd1234\n" +
		"20250601T100000-abcd1234/@-post-20250601T101500-abcd1234\n"
	fake := executortest.New().On("find ", executortest.Reply(0, listing, ""))
	m := newTestManager(fake)

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	plan, err := m.PlanRollback(context.Background(), "abcd1234", now)
	if err != nil {
		t.Fatalf("PlanRollback failed: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step (pre only), got %d", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Subvolume != "@" || step.Aside != "@.before-rollback-20250602T090000" {
		t.Errorf("unexpected step %+v", step)
	}

	if err := m.Rollback(context.Background(), plan); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if fake.Count("subvolid=5") != 1 {
		t.Errorf("expected top-level mount in rollback script, got %v", fake.Commands())
	}

	if _, err := m.PlanRollback(context.Background(), "ffffffff", now); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestRetentionSelect(t *testing.T) {
	now := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	sessions := []Session{
		{ID: "00000001", StartedAt: now.Add(-40 * day)},
		{ID: "00000002", StartedAt: now.Add(-20 * day)},
		{ID: "00000003", StartedAt: now.Add(-10 * day)},
		{ID: "00000004", StartedAt: now.Add(-2 * day)},
		{ID: "00000005", StartedAt: now.Add(-1 * day)},
	}

	tests := []struct {
		name      string
		retention Retention
		want      []string
	}{
		{"keep recent only", Retention{KeepRecent: 3}, []string{"00000001", "00000002"}},
		{"max age only", Retention{MaxAge: 15 * day}, []string{"00000001", "00000002"}},
		{"keep recent protects old", Retention{KeepRecent: 5, MaxAge: day}, nil},
		{"both rules", Retention{KeepRecent: 1, MaxAge: 5 * day}, []string{"00000001", "00000002", "00000003"}},
		{"before cutoff", Retention{KeepRecent: 1, Before: now.Add(-15 * day)}, []string{"00000001", "00000002"}},
		{"keep zero prunes all", Retention{}, []string{"00000001", "00000002", "00000003", "00000004", "00000005"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.retention.Select(sessions, now)
			var ids []string
			for _, s := range got {
				ids = append(ids, s.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", ids, tt.want)
			}
		})
	}
}
