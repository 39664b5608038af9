package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/executor/executortest"
	"github.com/neilberkman/pcswitcher/internal/core/logging"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) progress(job string) []events.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.ProgressEvent
	for _, e := range b.events {
		if p, ok := e.(events.ProgressEvent); ok && p.Job == job {
			out = append(out, p)
		}
	}
	return out
}

func newTestContext(t *testing.T, target *executortest.Fake) (*Context, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	jc := NewContext(ContextOptions{
		SessionID:  "abcd1234",
		StartedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Source:     executortest.New(),
		Target:     target,
		Hosts:      logging.Hosts{models.RoleSource: "laptop", models.RoleTarget: "desktop"},
		Bus:        bus,
		Version:    "1.2.0",
		Executable: os.Args[0],
	})
	return jc, bus
}

func TestBuiltinsRegistry(t *testing.T) {
	r := Builtins()
	if got := strings.Join(r.SyncJobs(), ","); got != "dummy_fail,dummy_success" {
		t.Errorf("SyncJobs = %s", got)
	}
	for _, name := range []string{SnapshotJobName, InstallJobName, DiskMonitorJobName} {
		def, ok := r.Lookup(name)
		if !ok || !def.Required {
			t.Errorf("%s should be registered as required", name)
		}
	}
	if _, ok := r.Lookup("rsync_everything"); ok {
		t.Error("unknown job should not be found")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		job      string
		params   Params
		wantErrs int
	}{
		{DummySuccessName, nil, 0},
		{DummySuccessName, Params{"duration_seconds": 5}, 0},
		{DummySuccessName, Params{"duration_seconds": 0.5}, 0},
		{DummySuccessName, Params{"duration_seconds": "five"}, 1},
		{DummySuccessName, Params{"duration_seconds": -1}, 1},
		{DummySuccessName, Params{"bogus": true}, 1},
		{DummyFailName, Params{"fail_at_percent": int64(30)}, 0},
		{DummyFailName, Params{"fail_at_percent": 0}, 1},
		{DummyFailName, Params{"fail_at_percent": 150, "mode": "explode"}, 2},
		{SnapshotJobName, Params{"subvolumes": []any{"@", "@home"}}, 0},
		{SnapshotJobName, Params{"subvolumes": []any{}}, 1},
		{SnapshotJobName, Params{"subvolumes": []any{"@", "@", 3}}, 2},
		{SnapshotJobName, Params{"subvolumes": []any{"@/nested"}, "keep_recent": -1}, 2},
		{DiskMonitorJobName, Params{"preflight_minimum": "20%", "runtime_minimum": "50GiB"}, 0},
		{DiskMonitorJobName, Params{"preflight_minimum": "200%", "check_interval": 0}, 2},
		{DiskMonitorJobName, Params{"path": "relative"}, 1},
		{InstallJobName, Params{"path": ""}, 1},
	}
	r := Builtins()
	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			def, _ := r.Lookup(tt.job)
			errs := def.ValidateConfig(tt.params)
			if len(errs) != tt.wantErrs {
				t.Fatalf("params %v: got %d errors %v, want %d", tt.params, len(errs), errs, tt.wantErrs)
			}
			// Validation has no side effects and gives the same answer twice
			if again := def.ValidateConfig(tt.params); len(again) != len(errs) {
				t.Errorf("validation not idempotent: %v then %v", errs, again)
			}
		})
	}
}

func TestContextCountsErrors(t *testing.T) {
	jc, bus := newTestContext(t, executortest.New())
	a := jc.ForJob("a", 1, 2)
	b := jc.ForJob("b", 2, 2)

	a.Log().Info("fine")
	a.LogFor(models.RoleTarget).Error("broken")
	a.Log().Log(context.Background(), models.LevelCritical, "worse")
	b.Log().Warn("just a warning")

	if a.Errors() != 2 {
		t.Errorf("a.Errors() = %d, want 2", a.Errors())
	}
	if b.Errors() != 0 {
		t.Errorf("b.Errors() = %d, want 0", b.Errors())
	}

	var targetHost string
	for _, e := range bus.events {
		if le, ok := e.(events.LogEvent); ok && le.Record.Message == "broken" {
			targetHost = le.Record.Host
			if le.Record.Job != "a" {
				t.Errorf("job = %s, want a", le.Record.Job)
			}
		}
	}
	if targetHost != "desktop" {
		t.Errorf("host = %q, want desktop", targetHost)
	}
}

func TestContextDropsInvalidProgress(t *testing.T) {
	jc, bus := newTestContext(t, executortest.New())
	jc = jc.ForJob("a", 1, 1)
	jc.Report(models.RoleSource, models.WithFraction(1.5))
	jc.Report(models.RoleSource, models.WithFraction(0.5))
	if got := len(bus.progress("a")); got != 1 {
		t.Errorf("expected 1 progress event, got %d", got)
	}
}

func TestDummySuccess(t *testing.T) {
	target := executortest.New()
	jc, bus := newTestContext(t, target)
	job, err := Builtins().defs[DummySuccessName].New(Params{"duration_seconds": 0.05})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	jc = jc.ForJob(job.Name(), 2, 4)
	if err := job.Execute(context.Background(), jc); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	progress := bus.progress(DummySuccessName)
	if len(progress) != dummyTicks {
		t.Fatalf("expected %d progress events, got %d", dummyTicks, len(progress))
	}
	last := progress[len(progress)-1]
	if f, _ := last.Update.Fraction(); f != 1 {
		t.Errorf("final fraction = %v, want 1", f)
	}
	if last.Role != models.RoleTarget || last.Step != 2 || last.TotalSteps != 4 {
		t.Errorf("unexpected final event %+v", last)
	}
	if target.Count("sleep ") != dummyTicks/2 {
		t.Errorf("expected %d remote sleeps, got %d", dummyTicks/2, target.Count("sleep "))
	}
	if jc.Errors() != 0 {
		t.Errorf("expected no errors, got %d", jc.Errors())
	}
}

func TestDummyFail(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		wantErr    bool
		wantErrors int64
	}{
		{"raise", "raise", true, 0},
		{"log", "log", false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jc, bus := newTestContext(t, executortest.New())
			job, err := newDummy(DummyFailName, Params{"duration_seconds": 0.02, "fail_at_percent": 30, "mode": tt.mode})
			if err != nil {
				t.Fatalf("newDummy failed: %v", err)
			}
			jc = jc.ForJob(job.Name(), 1, 1)
			err = job.Execute(context.Background(), jc)
			if tt.wantErr {
				if !errors.Is(err, ErrDummyFailure) {
					t.Fatalf("expected ErrDummyFailure, got %v", err)
				}
				if got := len(bus.progress(DummyFailName)); got != 3 {
					t.Errorf("expected to stop after 3 ticks, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if jc.Errors() != tt.wantErrors {
				t.Errorf("Errors() = %d, want %d", jc.Errors(), tt.wantErrors)
			}
		})
	}
}

func TestDummyHonoursCancellation(t *testing.T) {
	jc, _ := newTestContext(t, executortest.New())
	job, _ := newDummy(DummySuccessName, Params{"duration_seconds": 60})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := job.Execute(ctx, jc.ForJob(job.Name(), 1, 1))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("job did not stop promptly")
	}
}

func TestSnapshotJobRecordsBothRoles(t *testing.T) {
	target := executortest.New().On("findmnt", executortest.Reply(0, "/\n", ""))
	jc, _ := newTestContext(t, target)
	jc.Source = executortest.New().On("findmnt", executortest.Reply(0, "/\n", ""))

	job, err := NewSnapshotJob(Params{"subvolumes": []any{"@"}}, models.PhasePre)
	if err != nil {
		t.Fatalf("NewSnapshotJob failed: %v", err)
	}
	if err := job.Execute(context.Background(), jc.ForJob(job.Name(), 1, 3)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	snaps := jc.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Role != models.RoleSource || snaps[1].Role != models.RoleTarget {
		t.Errorf("unexpected roles %s, %s", snaps[0].Role, snaps[1].Role)
	}
	for _, s := range snaps {
		if s.Phase != models.PhasePre || s.SessionID != "abcd1234" {
			t.Errorf("unexpected snapshot %+v", s)
		}
	}
}

func TestSnapshotPostSkipsSystemCheck(t *testing.T) {
	jc, _ := newTestContext(t, executortest.New().On("command -v btrfs", executortest.Reply(1, "", "")))
	post, _ := NewSnapshotJob(nil, models.PhasePost)
	if problems := post.ValidateSystemState(context.Background(), jc); len(problems) != 0 {
		t.Errorf("post instance should not validate, got %v", problems)
	}
}

func TestDecideInstall(t *testing.T) {
	tests := []struct {
		source, target string
		want           installAction
		wantErr        bool
	}{
		{"1.2.0", "", installFresh, false},
		{"1.2.0", "1.2.0", installNone, false},
		{"1.2.0", "v1.2.0", installNone, false},
		{"1.2.0", "1.1.9", installUpgrade, false},
		{"1.2.0", "1.3.0", installNone, true},
		{"dev", "dev", installNone, false},
		{"dev", "1.0.0", installUpgrade, false},
	}
	for _, tt := range tests {
		t.Run(tt.source+"->"+tt.target, func(t *testing.T) {
			got, err := decideInstall(tt.source, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseVersionOutput(t *testing.T) {
	if got := ParseVersionOutput("pcswitcher version 1.4.2\n"); got != "1.4.2" {
		t.Errorf("got %q", got)
	}
	if got := ParseVersionOutput(""); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestInstallUploadsWhenMissing(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "pcswitcher")
	if err := os.WriteFile(bin, []byte("binary"), 0755); err != nil {
		t.Fatal(err)
	}

	installed := false
	target := executortest.New()
	target.On(`"$HOME"`, executortest.Reply(0, "/home/me", ""))
	target.On("--version", func(context.Context, string, executor.Options) (models.CommandResult, error) {
		if !installed {
			return models.NewCommandResult(127, "", "not found"), nil
		}
		return models.NewCommandResult(0, "pcswitcher version 1.2.0\n", ""), nil
	})
	target.On("mkdir -p", func(context.Context, string, executor.Options) (models.CommandResult, error) {
		installed = true
		return models.NewCommandResult(0, "", ""), nil
	})

	jc, _ := newTestContext(t, target)
	jc.Executable = bin
	job, _ := NewInstallJob(nil)
	if err := job.Execute(context.Background(), jc.ForJob(job.Name(), 2, 3)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	data, ok := target.File("/home/me/.local/bin/pcswitcher")
	if !ok || string(data) != "binary" {
		t.Errorf("binary not uploaded: %q", data)
	}
}

func TestInstallRefusesDowngrade(t *testing.T) {
	target := executortest.New().
		On(`"$HOME"`, executortest.Reply(0, "/home/me", "")).
		On("--version", executortest.Reply(0, "pcswitcher version 9.0.0\n", ""))
	jc, _ := newTestContext(t, target)
	job, _ := NewInstallJob(nil)
	if err := job.Execute(context.Background(), jc.ForJob(job.Name(), 2, 3)); err == nil {
		t.Fatal("expected downgrade refusal")
	}
}

func TestInstallChecksPlatform(t *testing.T) {
	target := executortest.New().On("uname", executortest.Reply(0, "Plan9 mips\n", ""))
	jc, _ := newTestContext(t, target)
	job, _ := NewInstallJob(nil)
	problems := job.ValidateSystemState(context.Background(), jc)
	if len(problems) != 1 || problems[0].Role != models.RoleTarget {
		t.Errorf("expected one target problem, got %v", problems)
	}
}

func TestDiskMonitorPreflight(t *testing.T) {
	target := executortest.New().On("df -P", executortest.Reply(0,
		"Filesystem 1-blocks Used Available Capacity Mounted on\n/dev/sda 1000 950 50 95% /\n", ""))
	jc, _ := newTestContext(t, target)
	job, err := NewDiskMonitor(Params{"preflight_minimum": "20%"}, models.RoleTarget)
	if err != nil {
		t.Fatalf("NewDiskMonitor failed: %v", err)
	}
	err = job.Preflight(context.Background(), jc.ForJob(job.Name(), 0, 0))
	if err == nil || !strings.Contains(err.Error(), "desktop") {
		t.Fatalf("expected critical error naming the target host, got %v", err)
	}
}
