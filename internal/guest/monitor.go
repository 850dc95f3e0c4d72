package guest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"aurora-guest-monitor/internal/model"
)

type State int32

const (
	StateStarting State = iota
	StateFailedStart
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateFailedStart:
		return "failed_start"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var ErrNoDomain = errors.New("no domain for guest")

// MonitorConfig holds per-monitor settings shared by every guest.
type MonitorConfig struct {
	NodeID     string
	Interval   time.Duration
	Collectors []string
}

// MonitorDeps are the collaborators of a monitor. OpenRecorder and Publisher
// are optional.
type MonitorDeps struct {
	Virt         Virt
	Locator      Locator
	Factory      CollectorFactory
	OpenRecorder func(name string) Recorder
	Publisher    Publisher
	Logger       *slog.Logger
}

// Monitor polls one guest until it stops running or ctx is cancelled.
type Monitor struct {
	id     int32
	cfg    MonitorConfig
	deps   MonitorDeps
	logger *slog.Logger
	props  *Properties

	state  atomic.Int32
	cycles atomic.Uint64

	domain     Domain
	collectors []Collector
	recorder   Recorder

	done     chan struct{}
	doneOnce sync.Once
}

func NewMonitor(id int32, cfg MonitorConfig, deps MonitorDeps) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "guest_monitor", "guest_id", id),
		props:  NewProperties(id),
		done:   make(chan struct{}),
	}
}

func (m *Monitor) ID() int32 {
	return m.id
}

func (m *Monitor) Properties() *Properties {
	return m.props
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Cycles is the number of completed collection cycles.
func (m *Monitor) Cycles() uint64 {
	return m.cycles.Load()
}

// Done is closed once the monitor has stopped or failed to start.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Start binds the monitor to its domain and resolves identity once. On
// failure the monitor is left in StateFailedStart and Run must not be called.
func (m *Monitor) Start(ctx context.Context) error {
	dom, ok := m.deps.Virt.DomainFromID(ctx, m.id)
	if !ok || dom == nil {
		m.logger.Warn("no domain for guest, monitor can't start")
		m.fail()
		return fmt.Errorf("guest %d: %w", m.id, ErrNoDomain)
	}
	m.domain = dom

	ident := m.resolveIdentity(ctx, dom)
	if err := m.props.PublishIdentity(ident); err != nil {
		m.fail()
		return fmt.Errorf("guest %d: %w", m.id, err)
	}

	collectors, err := m.deps.Factory.Build(m.cfg.Collectors, Target{ID: m.id, Domain: dom, Properties: m.props})
	if err != nil {
		m.logger.Error("build collectors failed", "error", err)
		m.fail()
		return fmt.Errorf("guest %d collectors: %w", m.id, err)
	}
	m.collectors = collectors

	if m.deps.OpenRecorder != nil {
		m.recorder = m.deps.OpenRecorder(ident.Name)
	}

	m.logger = m.logger.With("uuid", ident.UUID, "name", ident.Name)
	m.state.Store(int32(StateRunning))
	return nil
}

func (m *Monitor) resolveIdentity(ctx context.Context, dom Domain) Identity {
	ident := Identity{ID: m.id, UUID: dom.UUIDString(), Name: dom.Name()}
	if m.deps.Locator == nil {
		return ident
	}
	pid, err := m.deps.Locator.Resolve(ctx, ident.UUID)
	if err != nil {
		m.logger.Warn("guest pid unresolved", "uuid", ident.UUID, "error", err)
		return ident
	}
	ident.PID = pid
	return ident
}

// Run is the polling loop. It returns when the domain stops running or ctx
// is cancelled; shutdown latency is bounded by one interval.
func (m *Monitor) Run(ctx context.Context) {
	if m.State() != StateRunning {
		return
	}
	m.logger.Info("guest monitor starting", "interval", m.cfg.Interval, "collectors", len(m.collectors))
	defer m.stop()

	for ctx.Err() == nil {
		if !m.deps.Virt.DomainIsRunning(ctx, m.domain) {
			break
		}
		m.collect(ctx)
		if !waitInterval(ctx, m.cfg.Interval) {
			break
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	data := Sample{}
	ready := true
	for _, c := range m.collectors {
		s, err := c.Collect(ctx)
		if err != nil {
			ready = false
			m.logger.Debug("collector produced no data", "collector", c.Name(), "error", err)
			continue
		}
		maps.Copy(data, s)
	}

	now := time.Now().UTC()
	m.props.PublishSample(data, ready, now)
	m.cycles.Add(1)

	if m.recorder != nil {
		m.recorder.Record(data)
	}
	if m.deps.Publisher != nil {
		m.publish(ctx, data, ready, now)
	}
}

func (m *Monitor) publish(ctx context.Context, data Sample, ready bool, at time.Time) {
	ident, _ := m.props.Identity()
	frame := model.GuestFrame{
		NodeID:        m.cfg.NodeID,
		GuestID:       m.id,
		UUID:          ident.UUID,
		Name:          ident.Name,
		PID:           ident.PID,
		Ready:         ready,
		TimestampUnix: at.Unix(),
		Metrics:       data,
	}
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Interval)
	defer cancel()
	if err := m.deps.Publisher.PublishGuestSample(pctx, frame); err != nil {
		m.logger.Warn("publish guest sample failed", "error", err)
	}
}

func (m *Monitor) stop() {
	m.state.Store(int32(StateStopped))
	if m.recorder != nil {
		if err := m.recorder.Close(); err != nil {
			m.logger.Warn("close recorder failed", "error", err)
		}
	}
	m.logger.Info("guest monitor ending", "cycles", m.cycles.Load())
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Monitor) fail() {
	m.state.Store(int32(StateFailedStart))
	m.doneOnce.Do(func() { close(m.done) })
}

func waitInterval(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
