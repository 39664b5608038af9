package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// pgidMarker prefixes the first stdout line of every wrapped remote
// command; the rest of the line is the remote process group ID
const pgidMarker = "__pcswitcher_pgid__ "

// SSHExecutor runs commands on the target over a shared Connection
type SSHExecutor struct {
	conn *Connection

	mu    sync.Mutex
	pgids map[int]struct{}
}

// NewRemote creates a target-side executor on an open connection
func NewRemote(conn *Connection) *SSHExecutor {
	return &SSHExecutor{conn: conn, pgids: make(map[int]struct{})}
}

// wrapCommand runs command in a fresh session (and so process group) and
// reports the group ID before anything else is printed
func wrapCommand(command string) string {
	inner := "echo " + Quote(pgidMarker) + "$$; exec sh -c " + Quote(command)
	return "exec setsid -w sh -c " + Quote(inner)
}

// parsePgidLine recognises the marker line written by wrapCommand
func parsePgidLine(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, pgidMarker)
	if !ok {
		return 0, false
	}
	pgid, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || pgid <= 1 {
		return 0, false
	}
	return pgid, true
}

// Run implements Executor
func (r *SSHExecutor) Run(ctx context.Context, command string, opts ...Option) (models.CommandResult, error) {
	options := ApplyOptions(opts)

	runCtx := ctx
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	session, release, err := r.conn.newSession(runCtx)
	if err != nil {
		return models.CommandResult{}, err
	}
	defer release()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return models.CommandResult{}, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return models.CommandResult{}, fmt.Errorf("failed to open stderr: %w", err)
	}
	if options.Stdin != nil {
		session.Stdin = options.Stdin
	}

	if err := session.Start(wrapCommand(command)); err != nil {
		if lost := r.conn.Err(); lost != nil {
			return models.CommandResult{}, lost
		}
		return models.CommandResult{}, fmt.Errorf("failed to start remote command: %w", err)
	}

	stdout := &lineWriter{fn: options.OnStdout}
	stderr := &lineWriter{fn: options.OnStderr}
	pgidCh := make(chan int, 1)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		r.readStdout(stdoutPipe, stdout, pgidCh)
	}()
	go func() {
		defer readers.Done()
		_, _ = io.Copy(stderr, stderrPipe)
	}()

	waitCh := make(chan error, 1)
	go func() {
		readers.Wait()
		waitCh <- session.Wait()
	}()

	var pgid int
	var waitErr error
	finished := false
	for !finished {
		select {
		case pgid = <-pgidCh:
			if !options.Untracked {
				r.track(pgid)
			}
		case waitErr = <-waitCh:
			finished = true
		case <-runCtx.Done():
			_ = session.Signal(ssh.SIGKILL)
			if pgid == 0 {
				select {
				case pgid = <-pgidCh:
				default:
				}
			}
			if pgid != 0 {
				r.killGroups([]int{pgid})
			}
			_ = session.Close()
			select {
			case waitErr = <-waitCh:
			case <-time.After(5 * time.Second):
			}
			finished = true
		}
	}
	if pgid != 0 && !options.Untracked {
		r.untrack(pgid)
	}
	stdout.flush()
	stderr.flush()

	code, err := remoteExitCode(waitErr)
	result := models.NewCommandResult(code, stdout.String(), stderr.String())
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return result, fmt.Errorf("%w after %s", ErrTimeout, options.Timeout)
	case ctx.Err() != nil:
		return result, ctx.Err()
	case err != nil:
		if lost := r.conn.Err(); lost != nil {
			return result, lost
		}
		return result, err
	}
	return result, nil
}

// readStdout copies stdout to w, diverting the pgid marker line
func (r *SSHExecutor) readStdout(pipe io.Reader, w *lineWriter, pgidCh chan<- int) {
	reader := bufio.NewReader(pipe)
	first := true
	for {
		chunk, err := reader.ReadString('\n')
		if first && chunk != "" {
			first = false
			if pgid, ok := parsePgidLine(strings.TrimRight(chunk, "\r\n")); ok {
				pgidCh <- pgid
				chunk = ""
			}
		}
		if chunk != "" {
			_, _ = w.Write([]byte(chunk))
		}
		if err != nil {
			return
		}
	}
}

// remoteExitCode maps Session.Wait errors to an exit code. Anything that
// is not an exit status means the channel broke.
func remoteExitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			return 128 + signalNumber(sig), nil
		}
		return exitErr.ExitStatus(), nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return 255, nil
	}
	return 255, fmt.Errorf("remote command failed: %w", err)
}

func signalNumber(sig string) int {
	switch strings.TrimPrefix(sig, "SIG") {
	case "HUP":
		return 1
	case "INT":
		return 2
	case "KILL":
		return 9
	case "PIPE":
		return 13
	case "TERM":
		return 15
	}
	return 0
}

// TerminateAll implements Executor
func (r *SSHExecutor) TerminateAll(ctx context.Context) error {
	pgids := r.tracked()
	if len(pgids) == 0 {
		return nil
	}
	return r.killGroupsCtx(ctx, pgids)
}

func (r *SSHExecutor) killGroups(pgids []int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.killGroupsCtx(ctx, pgids)
}

// killGroupsCtx sends TERM then KILL to each remote process group on an
// untracked channel
func (r *SSHExecutor) killGroupsCtx(ctx context.Context, pgids []int) error {
	ids := make([]string, len(pgids))
	for i, pgid := range pgids {
		ids[i] = strconv.Itoa(pgid)
	}
	list := strings.Join(ids, " ")
	script := fmt.Sprintf("for p in %s; do kill -TERM -- -$p 2>/dev/null; done; sleep 0.5; "+
		"for p in %s; do kill -KILL -- -$p 2>/dev/null; done; true", list, list)

	session, release, err := r.conn.newSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to terminate remote processes: %w", err)
	}
	defer release()
	if err := session.Run(script); err != nil {
		return fmt.Errorf("failed to terminate remote processes %s: %w", list, err)
	}
	return nil
}

// Tracked returns how many started remote processes have not finished yet
func (r *SSHExecutor) Tracked() int {
	return len(r.tracked())
}

func (r *SSHExecutor) track(pgid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pgids[pgid] = struct{}{}
}

func (r *SSHExecutor) untrack(pgid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pgids, pgid)
}

func (r *SSHExecutor) tracked() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pgids := make([]int, 0, len(r.pgids))
	for pgid := range r.pgids {
		pgids = append(pgids, pgid)
	}
	return pgids
}

// Upload writes src to dst on the target via SFTP. The file is written
// next to dst and renamed into place so a partial transfer never
// replaces a working file.
func (r *SSHExecutor) Upload(ctx context.Context, src io.Reader, dst string, mode os.FileMode) error {
	client, err := r.conn.SFTP()
	if err != nil {
		return fmt.Errorf("failed to start sftp: %w", err)
	}
	tmp := dst + ".partial"
	f, err := client.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, contextReader{ctx: ctx, r: src}); err != nil {
		_ = f.Close()
		_ = client.Remove(tmp)
		return fmt.Errorf("failed to upload %s: %w", dst, err)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		return fmt.Errorf("failed to finish upload of %s: %w", dst, err)
	}
	if err := client.Chmod(tmp, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmp, err)
	}
	if err := client.PosixRename(tmp, dst); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return nil
}

// Download copies src from the target into dst
func (r *SSHExecutor) Download(ctx context.Context, src string, dst io.Writer) error {
	client, err := r.conn.SFTP()
	if err != nil {
		return fmt.Errorf("failed to start sftp: %w", err)
	}
	f, err := client.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := io.Copy(dst, contextReader{ctx: ctx, r: f}); err != nil {
		return fmt.Errorf("failed to download %s: %w", src, err)
	}
	return nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
