package session

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

func finishedSession(t *testing.T) *models.Session {
	t.Helper()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := models.NewSession("laptop", "desktop", start)
	s.LogFile = "/tmp/sync.log"
	outcomes := []models.JobOutcome{
		{Job: "dummy_success", Status: models.OutcomeSuccess, StartedAt: start, EndedAt: start.Add(20 * time.Second)},
		{Job: "dummy_fail", Status: models.OutcomeFailed, StartedAt: start.Add(20 * time.Second), EndedAt: start.Add(32 * time.Second), Error: "boom"},
	}
	for _, o := range outcomes {
		if err := s.AddOutcome(o); err != nil {
			t.Fatalf("AddOutcome: %v", err)
		}
	}
	if err := s.Transition(models.StatusCleanup, start.Add(33*time.Second)); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.SetError("dummy_fail", errors.New("boom")); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	if err := s.Transition(models.StatusFailed, start.Add(35*time.Second)); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	return s
}

func TestRenderSummaryDefaultTemplate(t *testing.T) {
	s := finishedSession(t)
	out := RenderSummary("", s)

	for _, want := range []string{
		"Sync session " + s.ID + " failed after 35s (laptop -> desktop).",
		"Failed job: dummy_fail.",
		"Reason: boom",
		"  dummy_success: success",
		"  dummy_fail: failed (boom)",
		"Log file: /tmp/sync.log",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSummaryCustomTemplate(t *testing.T) {
	s := finishedSession(t)
	out := RenderSummary("{{session_id}}:{{status}}{{#outcomes}} {{job}}={{duration}}{{/outcomes}}", s)
	want := s.ID + ":failed dummy_success=20s dummy_fail=12s"
	if out != want {
		t.Errorf("RenderSummary = %q, want %q", out, want)
	}
}

func TestRenderSummaryBrokenTemplateFallsBack(t *testing.T) {
	s := finishedSession(t)
	out := RenderSummary("{{#outcomes}} unterminated", s)
	if !strings.HasPrefix(out, "Sync session "+s.ID) {
		t.Errorf("expected fallback to default template, got %q", out)
	}
}

func TestSpinnerStopClearsLine(t *testing.T) {
	var buf syncBuffer
	sp := NewSpinner(&buf, "connecting")
	sp.Start()
	time.Sleep(100 * time.Millisecond)
	sp.Stop()
	sp.Stop()

	out := buf.String()
	if !strings.Contains(out, "connecting") {
		t.Errorf("spinner never drew its message: %q", out)
	}
	if !strings.HasSuffix(out, "\r\033[K") {
		t.Errorf("spinner did not clear the line: %q", out)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
