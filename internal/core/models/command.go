package models

// CommandResult is the frozen outcome of one command. A non-zero exit
// code is data, not an error.
type CommandResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// NewCommandResult builds a result. Negative exit codes (process killed
// before reporting one) are normalised to 255.
func NewCommandResult(exitCode int, stdout, stderr string) CommandResult {
	if exitCode < 0 {
		exitCode = 255
	}
	return CommandResult{exitCode: exitCode, stdout: stdout, stderr: stderr}
}

func (r CommandResult) ExitCode() int  { return r.exitCode }
func (r CommandResult) Stdout() string { return r.stdout }
func (r CommandResult) Stderr() string { return r.stderr }

// Success reports whether the command exited with code zero
func (r CommandResult) Success() bool { return r.exitCode == 0 }
