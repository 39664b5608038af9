package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/neilberkman/pcswitcher/internal/core/lock"
)

// terminalPrompter asks yes/no questions on the terminal. Anything but
// y or yes is a no.
type terminalPrompter struct {
	in  io.Reader
	out io.Writer
}

func (p terminalPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	_, _ = fmt.Fprintf(p.out, "%s [y/N] ", question)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		ch <- answer{line: line, err: err}
	}()

	select {
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	case <-ctx.Done():
		_, _ = fmt.Fprintln(p.out)
		return false, ctx.Err()
	}
}

// yesPrompter answers every question with yes (--yes)
type yesPrompter struct{}

func (yesPrompter) Confirm(context.Context, string) (bool, error) {
	return true, nil
}

// stdinPrompter returns a prompter on stdin, or nil when stdin is not a
// terminal and nobody could answer
func stdinPrompter() lock.Prompter {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return terminalPrompter{in: os.Stdin, out: os.Stderr}
}
