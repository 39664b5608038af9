package cli

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
	"github.com/neilberkman/pcswitcher/internal/core/orchestrator"
	"github.com/neilberkman/pcswitcher/internal/core/session"
)

// machine is an executor for one role plus the host name to show
type machine struct {
	role  models.MachineRole
	host  string
	exec  executor.Executor
	close func()
}

// openMachine returns this machine for the source role and an SSH
// connection to target for the target role
func openMachine(ctx context.Context, cfg *config.Config, role models.MachineRole, target string) (*machine, error) {
	switch role {
	case models.RoleSource:
		host, _ := os.Hostname()
		return &machine{role: role, host: host, exec: executor.NewLocal(), close: func() {}}, nil
	case models.RoleTarget:
	default:
		return nil, fmt.Errorf("unknown role %q (want source or target)", role)
	}
	if target == "" {
		return nil, fmt.Errorf("--target is required for the target machine")
	}

	var spinner *session.Spinner
	if term.IsTerminal(int(os.Stderr.Fd())) {
		spinner = session.NewSpinner(os.Stderr, "connecting to "+target)
		spinner.Start()
	}
	remote, err := orchestrator.SSHConnector(target, cfg.SSH, nil)(ctx)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &machine{
		role: role,
		host: remote.Host,
		exec: remote.Executor,
		close: func() {
			_ = remote.Close()
		},
	}, nil
}
