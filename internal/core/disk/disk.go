// Package disk measures free space on both machines and enforces the
// preflight and runtime floors.
package disk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Threshold is a free-space floor, either a percentage of the filesystem
// or an absolute byte count
type Threshold struct {
	Percent float64
	Bytes   uint64
}

// ParseThreshold accepts "20%" or a size such as "50GiB" or "500 MB"
func ParseThreshold(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, errors.New("empty threshold")
	}
	if p, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v <= 0 || v >= 100 {
			return Threshold{}, fmt.Errorf("invalid percentage threshold %q: must be between 0 and 100", s)
		}
		return Threshold{Percent: v}, nil
	}
	b, err := humanize.ParseBytes(s)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid size threshold %q: %w", s, err)
	}
	if b == 0 {
		return Threshold{}, fmt.Errorf("invalid size threshold %q: must be positive", s)
	}
	return Threshold{Bytes: b}, nil
}

func (t Threshold) String() string {
	if t.Percent > 0 {
		return strconv.FormatFloat(t.Percent, 'f', -1, 64) + "%"
	}
	return humanize.IBytes(t.Bytes)
}

// Violated reports whether u is under the floor
func (t Threshold) Violated(u Usage) bool {
	if t.Percent > 0 {
		return u.FreePercent() < t.Percent
	}
	return u.Free < t.Bytes
}

// Usage is one free-space measurement
type Usage struct {
	Path  string
	Total uint64
	Free  uint64 // Available to unprivileged users
}

// FreePercent returns free space as a percentage of the total
func (u Usage) FreePercent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Free) / float64(u.Total) * 100
}

func (u Usage) String() string {
	return fmt.Sprintf("%s free of %s (%.1f%%)", humanize.IBytes(u.Free), humanize.IBytes(u.Total), u.FreePercent())
}

// CriticalError is returned when free space drops below a floor. It ends
// the session.
type CriticalError struct {
	Role      models.MachineRole
	Host      string
	Path      string
	Usage     Usage
	Threshold Threshold
	Preflight bool
}

func (e *CriticalError) Error() string {
	check := "runtime"
	if e.Preflight {
		check = "preflight"
	}
	return fmt.Sprintf("disk space critical on %s (%s) at %s: %s, %s minimum is %s",
		e.Role, e.Host, e.Path, e.Usage, check, e.Threshold)
}

// Prober measures free space on one machine
type Prober interface {
	Usage(ctx context.Context) (Usage, error)
}

// LocalProber reads the source filesystem with statfs(2)
type LocalProber struct {
	Path string
}

func (p LocalProber) Usage(_ context.Context) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.Path, &st); err != nil {
		return Usage{}, fmt.Errorf("failed to statfs %s: %w", p.Path, err)
	}
	bsize := uint64(st.Bsize)
	return Usage{
		Path:  p.Path,
		Total: st.Blocks * bsize,
		Free:  st.Bavail * bsize,
	}, nil
}

// RemoteProber runs df on the target
type RemoteProber struct {
	Executor executor.Executor
	Path     string
}

func (p RemoteProber) Usage(ctx context.Context) (Usage, error) {
	result, err := p.Executor.Run(ctx, "df -P -B1 "+executor.Quote(p.Path))
	if err != nil {
		return Usage{}, err
	}
	if !result.Success() {
		return Usage{}, fmt.Errorf("df %s failed (exit %d): %s", p.Path, result.ExitCode(), strings.TrimSpace(result.Stderr()))
	}
	u, err := ParseDF(result.Stdout())
	if err != nil {
		return Usage{}, err
	}
	u.Path = p.Path
	return u, nil
}

// ParseDF reads the data line of `df -P -B1` output
func ParseDF(output string) (Usage, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return Usage{}, fmt.Errorf("unexpected df output: %q", output)
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 6 {
		return Usage{}, fmt.Errorf("unexpected df line: %q", lines[len(lines)-1])
	}
	total, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Usage{}, fmt.Errorf("invalid df size %q: %w", fields[1], err)
	}
	free, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return Usage{}, fmt.Errorf("invalid df available %q: %w", fields[3], err)
	}
	return Usage{Total: total, Free: free}, nil
}

// Check probes once and returns a *CriticalError if the floor is violated
func Check(ctx context.Context, p Prober, t Threshold, role models.MachineRole, host string, preflight bool) (Usage, error) {
	u, err := p.Usage(ctx)
	if err != nil {
		return Usage{}, err
	}
	if t.Violated(u) {
		return u, &CriticalError{
			Role:      role,
			Host:      host,
			Path:      u.Path,
			Usage:     u,
			Threshold: t,
			Preflight: preflight,
		}
	}
	return u, nil
}
