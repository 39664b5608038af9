package orchestrator

import (
	"context"

	"github.com/neilberkman/pcswitcher/internal/core/config"
	"github.com/neilberkman/pcswitcher/internal/core/events"
	"github.com/neilberkman/pcswitcher/internal/core/executor"
)

// Remote is an open channel to the target
type Remote struct {
	Executor executor.RemoteExecutor
	Host     string
	Close    func() error
}

// ConnectFunc opens the channel to the target
type ConnectFunc func(ctx context.Context) (*Remote, error)

// SSHConnector dials target over SSH using the ssh config section
func SSHConnector(target string, cfg config.SSH, bus events.Publisher) ConnectFunc {
	return func(ctx context.Context) (*Remote, error) {
		conn, err := executor.Dial(ctx, executor.ConnectOptions{
			Target:            target,
			IdentityFiles:     cfg.IdentityFiles,
			KnownHostsFile:    cfg.KnownHostsFile,
			Timeout:           cfg.ConnectTimeout,
			MaxSessions:       cfg.MaxSessions,
			KeepaliveInterval: cfg.KeepaliveInterval,
			Bus:               bus,
		})
		if err != nil {
			return nil, err
		}
		return &Remote{
			Executor: executor.NewRemote(conn),
			Host:     conn.Host(),
			Close:    conn.Close,
		}, nil
	}
}
