package lock

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
)

type fakePrompter struct {
	answer bool
	asked  []string
}

func (p *fakePrompter) Confirm(_ context.Context, question string) (bool, error) {
	p.asked = append(p.asked, question)
	return p.answer, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// deadPID returns the PID of a process that has already exited
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("failed to run true: %v", err)
	}
	return cmd.Process.Pid
}

func TestParseHolder(t *testing.T) {
	since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := Holder{PID: 4242, SessionID: "abcd1234", Host: "laptop", Since: since}

	got, err := ParseHolder(h.String() + "\n")
	if err != nil {
		t.Fatalf("ParseHolder failed: %v", err)
	}
	if got.PID != 4242 || got.SessionID != "abcd1234" || got.Host != "laptop" || !got.Since.Equal(since) {
		t.Errorf("got %+v, want %+v", got, h)
	}

	if _, err := ParseHolder("4242"); err != nil {
		t.Errorf("PID-only holder should parse: %v", err)
	}
	for _, bad := range []string{"", "abc|x", "-1|x"} {
		if _, err := ParseHolder(bad); err == nil {
			t.Errorf("ParseHolder(%q) should fail", bad)
		}
	}
}

func TestSourceLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "pcswitcher.lock")
	ctx := context.Background()

	first, err := AcquireSource(ctx, path, NewHolder("aaaa0001"), nil, discardLogger())
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "|aaaa0001|") {
		t.Errorf("holder line not written: %q", data)
	}

	_, err = AcquireSource(ctx, path, NewHolder("aaaa0002"), nil, discardLogger())
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	var held *HeldError
	if !errors.As(err, &held) || held.Holder.SessionID != "aaaa0001" {
		t.Errorf("expected holder session aaaa0001, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	second, err := AcquireSource(ctx, path, NewHolder("aaaa0003"), nil, discardLogger())
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	_ = second.Release()
}

func TestSourceLockStale(t *testing.T) {
	tests := []struct {
		name    string
		answer  bool
		wantErr error
	}{
		{"user clears", true, nil},
		{"user refuses", false, ErrStaleNotCleared},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pcswitcher.lock")
			ctx := context.Background()

			// Hold the lock under a holder line naming a dead process
			stale := NewHolder("dead0001")
			stale.PID = deadPID(t)
			orphan, err := AcquireSource(ctx, path, stale, nil, discardLogger())
			if err != nil {
				t.Fatalf("setup acquire failed: %v", err)
			}
			defer func() {
				_ = orphan.Release()
			}()

			prompt := &fakePrompter{answer: tt.answer}
			l, err := AcquireSource(ctx, path, NewHolder("beef0002"), prompt, discardLogger())
			if len(prompt.asked) != 1 {
				t.Fatalf("expected one prompt, got %d", len(prompt.asked))
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected stale lock to be cleared, got %v", err)
			}
			_ = l.Release()
		})
	}
}

func TestSourceLockStaleWithoutPrompter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pcswitcher.lock")
	stale := NewHolder("dead0001")
	stale.PID = deadPID(t)
	orphan, err := AcquireSource(context.Background(), path, stale, nil, discardLogger())
	if err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}
	defer func() {
		_ = orphan.Release()
	}()

	_, err = AcquireSource(context.Background(), path, NewHolder("beef0002"), nil, discardLogger())
	if !errors.Is(err, ErrStaleNotCleared) {
		t.Fatalf("expected ErrStaleNotCleared, got %v", err)
	}
}

func requireFlock(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("flock"); err != nil {
		t.Skip("flock(1) not installed")
	}
}

func TestTargetLockExclusive(t *testing.T) {
	requireFlock(t)

	// The placeholder protocol only needs a shell, so a local executor
	// stands in for the SSH one
	ex := executor.NewLocal()
	path := filepath.Join(t.TempDir(), "target.lock")
	ctx := context.Background()

	first, err := AcquireTarget(ctx, ex, path, NewHolder("cafe0001"), nil, discardLogger())
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if ex.Tracked() != 0 {
		t.Errorf("placeholder should be untracked, got %d tracked", ex.Tracked())
	}

	_, err = AcquireTarget(ctx, ex, path, NewHolder("cafe0002"), nil, discardLogger())
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	var held *HeldError
	if !errors.As(err, &held) || held.Holder.SessionID != "cafe0001" {
		t.Errorf("expected holder session cafe0001, got %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	second, err := AcquireTarget(ctx, ex, path, NewHolder("cafe0003"), nil, discardLogger())
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	if err := second.Release(); err != nil {
		t.Errorf("release failed: %v", err)
	}
}

func TestPlaceholderCommandQuotesPath(t *testing.T) {
	cmd := placeholderCommand("/tmp/it's here/x.lock", NewHolder("abcd0001"))
	if !strings.HasPrefix(cmd, "mkdir -p ") {
		t.Errorf("expected lock dir to be created: %s", cmd)
	}
	if !strings.Contains(cmd, "flock -n -E 75") {
		t.Errorf("expected non-blocking flock: %s", cmd)
	}
}
