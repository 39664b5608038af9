// Package executortest provides a scripted executor for tests that must
// not spawn real processes or open SSH connections.
package executortest

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Responder produces the outcome of one command
type Responder func(ctx context.Context, command string, opts executor.Options) (models.CommandResult, error)

// Reply always returns the given result
func Reply(exitCode int, stdout, stderr string) Responder {
	return func(context.Context, string, executor.Options) (models.CommandResult, error) {
		return models.NewCommandResult(exitCode, stdout, stderr), nil
	}
}

// Fail returns err as a transport error
func Fail(err error) Responder {
	return func(context.Context, string, executor.Options) (models.CommandResult, error) {
		return models.CommandResult{}, err
	}
}

type rule struct {
	match   string
	respond Responder
}

// Fake is an executor whose commands are answered by rules. A command is
// answered by the most recently added rule whose pattern it contains;
// unmatched commands succeed with empty output.
type Fake struct {
	mu         sync.Mutex
	rules      []rule
	commands   []string
	files      map[string][]byte
	terminate  chan struct{}
	terminated int
	running    int
}

// New creates an empty fake
func New() *Fake {
	return &Fake{
		files:     make(map[string][]byte),
		terminate: make(chan struct{}),
	}
}

// On registers a responder for commands containing match
func (f *Fake) On(match string, respond Responder) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, respond: respond})
	return f
}

// Block returns a responder that runs until the context ends or
// TerminateAll is called, like a long-running process
func (f *Fake) Block() Responder {
	return func(ctx context.Context, _ string, _ executor.Options) (models.CommandResult, error) {
		f.mu.Lock()
		term := f.terminate
		f.mu.Unlock()
		select {
		case <-ctx.Done():
			return models.NewCommandResult(137, "", ""), ctx.Err()
		case <-term:
			return models.NewCommandResult(137, "", "killed"), nil
		}
	}
}

// Hold returns a responder that prints line and then waits for stdin to
// close, like the target lock placeholder
func Hold(line string) Responder {
	return func(ctx context.Context, _ string, opts executor.Options) (models.CommandResult, error) {
		if opts.OnStdout != nil {
			opts.OnStdout(line)
		}
		if opts.Stdin == nil {
			return models.NewCommandResult(0, "", ""), nil
		}
		closed := make(chan struct{})
		go func() {
			_, _ = io.Copy(io.Discard, opts.Stdin)
			close(closed)
		}()
		select {
		case <-closed:
			return models.NewCommandResult(0, "", ""), nil
		case <-ctx.Done():
			return models.NewCommandResult(137, "", ""), ctx.Err()
		}
	}
}

// Run implements executor.Executor
func (f *Fake) Run(ctx context.Context, command string, opts ...executor.Option) (models.CommandResult, error) {
	options := executor.ApplyOptions(opts)

	f.mu.Lock()
	f.commands = append(f.commands, command)
	respond := Reply(0, "", "")
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(command, f.rules[i].match) {
			respond = f.rules[i].respond
			break
		}
	}
	if !options.Untracked {
		f.running++
	}
	f.mu.Unlock()

	defer func() {
		if !options.Untracked {
			f.mu.Lock()
			f.running--
			f.mu.Unlock()
		}
	}()

	if err := ctx.Err(); err != nil {
		return models.CommandResult{}, err
	}
	result, err := respond(ctx, command, options)
	deliver(result.Stdout(), options.OnStdout)
	deliver(result.Stderr(), options.OnStderr)
	return result, err
}

func deliver(output string, fn executor.LineHandler) {
	if fn == nil || output == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(output, "\n"), "\n") {
		fn(line)
	}
}

// TerminateAll implements executor.Executor by releasing every blocked
// command
func (f *Fake) TerminateAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated++
	close(f.terminate)
	f.terminate = make(chan struct{})
	return nil
}

// Upload implements executor.RemoteExecutor
func (f *Fake) Upload(ctx context.Context, src io.Reader, dst string, _ os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[dst] = data
	return nil
}

// Download implements executor.RemoteExecutor
func (f *Fake) Download(ctx context.Context, src string, dst io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	data, ok := f.files[src]
	f.mu.Unlock()
	if !ok {
		return os.ErrNotExist
	}
	_, err := io.Copy(dst, bytes.NewReader(data))
	return err
}

// Commands returns every command run so far, in order
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Count returns how many commands contained match
func (f *Fake) Count(match string) int {
	n := 0
	for _, c := range f.Commands() {
		if strings.Contains(c, match) {
			n++
		}
	}
	return n
}

// File returns uploaded content
func (f *Fake) File(path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	return data, ok
}

// TerminateCalls returns how often TerminateAll was called
func (f *Fake) TerminateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// Running returns how many tracked commands are in flight
func (f *Fake) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
