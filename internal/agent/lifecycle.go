package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	if err := a.conn.Connect(ctx); err != nil {
		return fmt.Errorf("initial libvirt connect: %w", err)
	}
	a.health.SetLibvirtConnected(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.manager.Run(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return a.runEventLoop(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})
	if a.cfg.MetricsListenAddr != "" {
		g.Go(func() error {
			return a.runMetricsServer(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.refreshGuestHealth()
			if err := a.conn.Healthy(); err != nil {
				a.logger.Warn("libvirt health check failed, reconnecting", "error", err)
				a.health.SetLibvirtConnected(false)
				if recErr := a.conn.Reconnect(ctx); recErr != nil {
					a.logger.Error("libvirt reconnect failed", "error", recErr)
					continue
				}
				a.health.SetLibvirtConnected(true)
				a.manager.Notify()
				a.logHealth("recovered")
			} else {
				a.health.SetLibvirtConnected(true)
				a.logHealth("ok")
			}
		}
	}
}

// refreshGuestHealth folds the manager's guest view into the health snapshot.
func (a *Agent) refreshGuestHealth() {
	guests := a.manager.Guests()
	a.health.SetActiveGuests(len(guests))
	for _, g := range guests {
		if !g.UpdatedAt.IsZero() {
			a.health.MarkGuestSample(g.UpdatedAt)
		}
	}
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "status", status, "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			a.logger.Warn("stream publisher close failed", "error", err)
		}
	}
	a.health.SetStreamConnected(false)
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("libvirt close failed", "error", err)
	}
	a.health.SetLibvirtConnected(false)
}
