package session

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner shows a spinning animation on one terminal line while a
// command waits on the target
type Spinner struct {
	writer  io.Writer
	message string
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewSpinner creates a spinner writing to w
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		writer:  w,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation in a goroutine
func (s *Spinner) Start() {
	go func() {
		defer close(s.done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i = (i + 1) % len(frames) {
			_, _ = fmt.Fprintf(s.writer, "\r%s %s", frames[i], s.message)
			select {
			case <-s.stop:
				// Clear the line
				_, _ = fmt.Fprint(s.writer, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
}
