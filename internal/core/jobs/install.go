package jobs

import (
	"context"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// InstallJobName is the required job that keeps the target's pcswitcher
// at the source's version
const InstallJobName = "install_on_target"

const defaultInstallPath = ".local/bin/pcswitcher"

// InstallJob uploads the running binary to the target when the target has
// none or an older one. It never downgrades.
type InstallJob struct {
	base
	path string // relative paths are under the target's $HOME
}

func parseInstallParams(params Params) (string, []ConfigError) {
	r := newParamReader(InstallJobName, params)
	r.only("path")
	p := r.str("path", defaultInstallPath)
	if p == "" {
		r.fail("path", "must not be empty")
	}
	return p, r.errs
}

// NewInstallJob creates the job from its block
func NewInstallJob(params Params) (*InstallJob, error) {
	p, errs := parseInstallParams(params)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return &InstallJob{base: base{name: InstallJobName, required: true}, path: p}, nil
}

// unameArch maps GOARCH to what uname -m prints on Linux
var unameArch = map[string][]string{
	"amd64": {"x86_64"},
	"arm64": {"aarch64", "arm64"},
	"386":   {"i386", "i686"},
	"arm":   {"armv7l", "armv6l"},
}

func (j *InstallJob) ValidateSystemState(ctx context.Context, jc *Context) []SystemStateError {
	var problems []SystemStateError
	fail := func(role models.MachineRole, format string, args ...any) {
		problems = append(problems, SystemStateError{
			Job: j.Name(), Role: role, Host: jc.Host(role), Message: fmt.Sprintf(format, args...),
		})
	}

	if _, err := os.Stat(jc.Executable); err != nil {
		fail(models.RoleSource, "cannot read own binary: %v", err)
	}

	result, err := jc.Target.Run(ctx, "uname -sm")
	switch {
	case err != nil:
		fail(models.RoleTarget, "cannot query platform: %v", err)
	case !result.Success():
		fail(models.RoleTarget, "uname failed with exit %d", result.ExitCode())
	default:
		fields := strings.Fields(result.Stdout())
		if len(fields) != 2 || !strings.EqualFold(fields[0], runtime.GOOS) || !archMatches(fields[1]) {
			fail(models.RoleTarget, "platform %q does not match source %s/%s",
				strings.TrimSpace(result.Stdout()), runtime.GOOS, runtime.GOARCH)
		}
	}
	return problems
}

func archMatches(machine string) bool {
	for _, name := range unameArch[runtime.GOARCH] {
		if machine == name {
			return true
		}
	}
	return machine == runtime.GOARCH
}

func (j *InstallJob) Execute(ctx context.Context, jc *Context) error {
	log := jc.LogFor(models.RoleTarget)

	dst, err := j.resolvePath(ctx, jc.Target)
	if err != nil {
		return err
	}
	installed, err := remoteVersion(ctx, jc.Target, dst)
	if err != nil {
		return err
	}

	action, err := decideInstall(jc.Version, installed)
	if err != nil {
		return err
	}
	switch action {
	case installNone:
		log.Info("target already up to date", "version", installed)
		jc.Report(models.RoleTarget, models.WithFraction(1))
		return nil
	case installFresh:
		log.Info("installing pcswitcher on target", "version", jc.Version, "path", dst)
	case installUpgrade:
		log.Info("upgrading pcswitcher on target", "from", installed, "to", jc.Version, "path", dst)
	}

	jc.Report(models.RoleTarget, models.WithFraction(0), models.WithItem("upload"))
	if _, err := jc.Target.Run(ctx, "mkdir -p "+executor.Quote(path.Dir(dst))); err != nil {
		return fmt.Errorf("failed to create install dir: %w", err)
	}
	f, err := os.Open(jc.Executable)
	if err != nil {
		return fmt.Errorf("failed to open own binary: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := jc.Target.Upload(ctx, f, dst, 0755); err != nil {
		return fmt.Errorf("failed to upload binary: %w", err)
	}
	jc.Report(models.RoleTarget, models.WithFraction(0.9), models.WithItem("verify"))

	now, err := remoteVersion(ctx, jc.Target, dst)
	if err != nil {
		return err
	}
	if now != jc.Version {
		return fmt.Errorf("installed binary reports version %q, expected %q", now, jc.Version)
	}
	jc.Report(models.RoleTarget, models.WithFraction(1))
	log.Info("target updated", "version", now)
	return nil
}

// resolvePath makes a $HOME-relative install path absolute
func (j *InstallJob) resolvePath(ctx context.Context, ex executor.Executor) (string, error) {
	if path.IsAbs(j.path) {
		return j.path, nil
	}
	result, err := ex.Run(ctx, `printf %s "$HOME"`)
	if err != nil {
		return "", fmt.Errorf("failed to resolve target home: %w", err)
	}
	home := strings.TrimSpace(result.Stdout())
	if !result.Success() || home == "" {
		return "", fmt.Errorf("target has no $HOME")
	}
	return path.Join(home, j.path), nil
}

// remoteVersion returns "" when no usable binary is installed
func remoteVersion(ctx context.Context, ex executor.Executor, bin string) (string, error) {
	result, err := ex.Run(ctx, executor.Quote(bin)+" --version 2>/dev/null")
	if err != nil {
		return "", fmt.Errorf("failed to query target version: %w", err)
	}
	if !result.Success() {
		return "", nil
	}
	return ParseVersionOutput(result.Stdout()), nil
}

// ParseVersionOutput extracts the version from "pcswitcher version X"
func ParseVersionOutput(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

type installAction int

const (
	installNone installAction = iota
	installFresh
	installUpgrade
)

// decideInstall compares versions. Non-semver builds (such as "dev") are
// only considered equal to the exact same string.
func decideInstall(source, target string) (installAction, error) {
	if target == "" {
		return installFresh, nil
	}
	if source == target {
		return installNone, nil
	}
	src, srcErr := semver.NewVersion(source)
	dst, dstErr := semver.NewVersion(target)
	if srcErr != nil || dstErr != nil {
		return installUpgrade, nil
	}
	switch {
	case dst.GreaterThan(src):
		return installNone, fmt.Errorf("target has pcswitcher %s, newer than source %s; refusing to downgrade", target, source)
	case dst.Equal(src):
		return installNone, nil
	}
	return installUpgrade, nil
}

var installDef = Definition{
	Name:     InstallJobName,
	Kind:     KindSystem,
	Required: true,
	ValidateConfig: func(params Params) []ConfigError {
		_, errs := parseInstallParams(params)
		return errs
	},
	New: func(params Params) (Job, error) {
		return NewInstallJob(params)
	},
}
