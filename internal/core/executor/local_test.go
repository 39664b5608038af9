package executor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

func TestLocalRunCapturesOutput(t *testing.T) {
	ex := NewLocal()
	result, err := ex.Run(context.Background(), "echo hello; echo oops >&2")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got exit %d", result.ExitCode())
	}
	if result.Stdout() != "hello\n" {
		t.Errorf("stdout = %q, want %q", result.Stdout(), "hello\n")
	}
	if result.Stderr() != "oops\n" {
		t.Errorf("stderr = %q, want %q", result.Stderr(), "oops\n")
	}
}

func TestLocalRunNonZeroExitIsData(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    int
	}{
		{"exit 1", "exit 1", 1},
		{"exit 42", "exit 42", 42},
		{"missing command", "definitely-not-a-command-pcswitcher", 127},
		{"killed by signal", "kill -TERM $$", 128 + 15},
	}

	ex := NewLocal()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ex.Run(context.Background(), tt.command)
			if err != nil {
				t.Fatalf("expected nil error for non-zero exit, got %v", err)
			}
			if result.ExitCode() != tt.want {
				t.Errorf("exit code = %d, want %d", result.ExitCode(), tt.want)
			}
			if result.Success() {
				t.Error("Success() should be false")
			}
		})
	}
}

func TestLocalRunStreamsLines(t *testing.T) {
	ex := NewLocal()

	var mu sync.Mutex
	var lines []string
	result, err := Stream(context.Background(), ex, "printf 'one\\ntwo\\nthree'",
		func(line string) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, line)
		}, nil)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	want := []string{"one", "two", "three"}
	if strings.Join(lines, ",") != strings.Join(want, ",") {
		t.Errorf("lines = %v, want %v", lines, want)
	}
	if result.Stdout() != "one\ntwo\nthree" {
		t.Errorf("full stdout not captured: %q", result.Stdout())
	}
}

func TestLocalRunStdin(t *testing.T) {
	ex := NewLocal()
	result, err := ex.Run(context.Background(), "cat", WithStdin(strings.NewReader("piped")))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Stdout() != "piped" {
		t.Errorf("stdout = %q, want %q", result.Stdout(), "piped")
	}
}

func TestLocalRunReturnsWithStdinStillOpen(t *testing.T) {
	ex := NewLocal()
	r, w := io.Pipe()
	defer func() {
		_ = w.Close()
	}()

	done := make(chan models.CommandResult, 1)
	go func() {
		result, _ := ex.Run(context.Background(), "exit 75", WithStdin(r))
		done <- result
	}()

	select {
	case result := <-done:
		if result.ExitCode() != 75 {
			t.Errorf("exit code = %d, want 75", result.ExitCode())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the process exited")
	}
}

func TestLocalRunTimeout(t *testing.T) {
	ex := NewLocal()
	start := time.Now()
	_, err := ex.Run(context.Background(), "sleep 10", WithTimeout(100*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took too long: %s", elapsed)
	}
	if ex.Tracked() != 0 {
		t.Errorf("expected no tracked processes, got %d", ex.Tracked())
	}
}

func TestLocalRunCancelled(t *testing.T) {
	ex := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	// The child sleep shares the process group and must die with the shell
	_, err := ex.Run(ctx, "sleep 10 & wait")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocalTerminateAll(t *testing.T) {
	ex := NewLocal()

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := ex.Run(context.Background(), "sleep 30")
			done <- err
		}()
	}

	deadline := time.Now().Add(5 * time.Second)
	for ex.Tracked() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("processes never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := ex.TerminateAll(context.Background()); err != nil {
		t.Fatalf("TerminateAll failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("terminated command should report exit as data, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("command survived TerminateAll")
		}
	}
	if ex.Tracked() != 0 {
		t.Errorf("expected no tracked processes, got %d", ex.Tracked())
	}
}

func TestLocalTerminateAllNothingRunning(t *testing.T) {
	if err := NewLocal().TerminateAll(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
