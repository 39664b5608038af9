package disk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/executor"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// Monitor polls one machine until its context is cancelled or free space
// drops under the runtime floor
type Monitor struct {
	Prober    Prober
	Threshold Threshold
	Interval  time.Duration
	Role      models.MachineRole
	Host      string
	Logger    *slog.Logger

	// OnSample, when set, sees every successful measurement
	OnSample func(Usage)
}

// Run returns nil when ctx is cancelled and a *CriticalError when space
// runs out. Probe failures other than a lost connection are logged and
// retried on the next tick.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.sample(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Monitor) sample(ctx context.Context) error {
	u, err := Check(ctx, m.Prober, m.Threshold, m.Role, m.Host, false)
	if ctx.Err() != nil {
		return nil
	}
	var critical *CriticalError
	switch {
	case errors.As(err, &critical):
		return err
	case errors.Is(err, executor.ErrConnectionLost):
		return err
	case err != nil:
		m.Logger.Warn("disk space check failed", "error", err)
		return nil
	}

	m.Logger.Debug("disk space ok",
		"path", u.Path,
		"free_bytes", u.Free,
		"free_percent", u.FreePercent())
	if m.OnSample != nil {
		m.OnSample(u)
	}
	return nil
}
