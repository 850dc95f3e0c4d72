package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"aurora-guest-monitor/internal/collector"
	"aurora-guest-monitor/internal/config"
	"aurora-guest-monitor/internal/guest"
	libvirtconn "aurora-guest-monitor/internal/libvirt"
	"aurora-guest-monitor/internal/metrics"
	"aurora-guest-monitor/internal/model"
	"aurora-guest-monitor/internal/plot"
	"aurora-guest-monitor/internal/process"
	"aurora-guest-monitor/internal/stream"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	conn      *libvirtconn.ConnManager
	manager   *guest.Manager
	publisher stream.Publisher
	events    *libvirtconn.EventMonitor
	registry  *prometheus.Registry
	health    *HealthStatus
}

const eventHeartbeatInterval = 30 * time.Second

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	publisher, err := stream.NewPublisherFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream publisher: %w", err)
	}

	conn := libvirtconn.NewConnManager(cfg.LibvirtURI, cfg.ReconnectInterval, cfg.MaxReconnectJitter, logger)
	virt := libvirtconn.NewVirt(conn, logger)
	locator := process.NewLocator(process.SystemTable{})

	factory := collector.NewDefaultFactory(virt, func() collector.ProcessInspector {
		return process.NewInspector()
	}, logger)
	if err := factory.Validate(cfg.GuestCollectors); err != nil {
		return nil, fmt.Errorf("guest collectors: %w", err)
	}

	health := NewHealthStatus()
	deps := guest.MonitorDeps{
		Virt:         virt,
		Locator:      locator,
		Factory:      factory,
		OpenRecorder: newRecorderOpener(cfg, logger),
		Logger:       logger,
	}
	if publisher != nil {
		wrapped := &healthPublisher{publisher: publisher, health: health}
		publisher = wrapped
		deps.Publisher = wrapped
	}
	monitorCfg := guest.MonitorConfig{
		NodeID:     cfg.NodeID,
		Interval:   cfg.GuestInterval(),
		Collectors: cfg.GuestCollectors,
	}
	manager := guest.NewManager(virt, cfg.GuestManagerInterval, func(id int32) *guest.Monitor {
		return guest.NewMonitor(id, monitorCfg, deps)
	}, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewExporter(manager, cfg.NodeID),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		conn:      conn,
		manager:   manager,
		publisher: publisher,
		events:    libvirtconn.NewEventMonitor(conn, eventHeartbeatInterval, logger),
		registry:  registry,
		health:    health,
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting aurora-guest-monitor", "node_id", a.cfg.NodeID, "libvirt_uri", a.cfg.LibvirtURI,
		"interval", a.cfg.GuestInterval(), "collectors", a.cfg.GuestCollectors, "plot_dir", a.cfg.PlotDir)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("aurora-guest-monitor stopped")
	return nil
}

// runEventLoop refreshes the guest set as soon as libvirt reports a domain
// starting or stopping instead of waiting for the next manager tick.
func (a *Agent) runEventLoop(ctx context.Context) error {
	events := make(chan libvirtconn.DomainEvent, 32)
	go a.events.Run(ctx, events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			a.logger.Debug("libvirt event", "type", ev.Type, "domain", ev.Domain, "domain_id", ev.DomainID, "ts", ev.Timestamp)
			switch ev.Type {
			case "started", "resumed", "stopped", "crashed", "shutdown":
				a.manager.Notify()
			}
		}
	}
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

// newRecorderOpener opens one plot file per guest under cfg.PlotDir. A
// configured column list fixes the layout for every guest.
func newRecorderOpener(cfg config.Config, logger *slog.Logger) func(name string) guest.Recorder {
	opts := []plot.Option{plot.WithColumns(cfg.PlotColumns...)}
	return func(name string) guest.Recorder {
		return plot.New(cfg.PlotDir, name, logger, opts...)
	}
}

type healthPublisher struct {
	publisher stream.Publisher
	health    *HealthStatus
}

func (p *healthPublisher) PublishGuestSample(ctx context.Context, f model.GuestFrame) error {
	err := p.publisher.PublishGuestSample(ctx, f)
	if err != nil {
		p.health.SetStreamConnected(false)
		return err
	}
	p.health.SetStreamConnected(true)
	if f.TimestampUnix > 0 {
		p.health.MarkGuestSample(time.Unix(f.TimestampUnix, 0).UTC())
	}
	return nil
}

func (p *healthPublisher) Close(ctx context.Context) error {
	return p.publisher.Close(ctx)
}
