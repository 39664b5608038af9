package tui

import (
	"context"
	"errors"
	"sync"
)

// ErrPrompterClosed is returned when the display exited before answering
var ErrPrompterClosed = errors.New("display closed before the question was answered")

// Prompter asks yes/no questions through the live display. It satisfies
// lock.Prompter.
type Prompter struct {
	requests  chan promptMsg
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPrompter creates a prompter to pass to both the session and the
// SyncModel
func NewPrompter() *Prompter {
	return &Prompter{
		requests: make(chan promptMsg),
		closed:   make(chan struct{}),
	}
}

// Confirm blocks until the user answers, ctx is done or the display exits
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	reply := make(chan bool, 1)
	select {
	case p.requests <- promptMsg{question: question, reply: reply}:
	case <-p.closed:
		return false, ErrPrompterClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case ok := <-reply:
		return ok, nil
	case <-p.closed:
		return false, ErrPrompterClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close releases anyone still waiting on the prompter
func (p *Prompter) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}
