package guest

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// GuestSnapshot is a read-side copy of one monitored guest.
type GuestSnapshot struct {
	Identity  Identity  `json:"identity"`
	State     State     `json:"state"`
	Ready     bool      `json:"ready"`
	UpdatedAt time.Time `json:"updated_at"`
	Sample    Sample    `json:"sample"`
}

// Manager discovers active guests and runs one Monitor per guest. A guest is
// keyed by its domain id; when a restarted guest comes back under a new id,
// the monitor for the old id is retired so each UUID has one monitor.
type Manager struct {
	lister     DomainLister
	newMonitor func(id int32) *Monitor
	interval   time.Duration
	logger     *slog.Logger

	kick chan struct{}

	mu       sync.Mutex
	monitors map[int32]monitorEntry
}

type monitorEntry struct {
	mon    *Monitor
	cancel context.CancelFunc
}

func NewManager(lister DomainLister, interval time.Duration, newMonitor func(id int32) *Monitor, logger *slog.Logger) *Manager {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Manager{
		lister:     lister,
		newMonitor: newMonitor,
		interval:   interval,
		logger:     logger.With("component", "guest_manager"),
		kick:       make(chan struct{}, 1),
		monitors:   map[int32]monitorEntry{},
	}
}

// Notify asks Run to refresh before the next tick, e.g. after a guest
// started. Repeated calls before the refresh collapse into one.
func (m *Manager) Notify() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Run refreshes the monitor set every interval. On cancellation it waits for
// every monitor goroutine to exit.
func (m *Manager) Run(ctx context.Context) error {
	var g errgroup.Group
	defer func() {
		_ = g.Wait()
		m.logger.Info("all guest monitors stopped")
	}()

	t := time.NewTicker(m.interval)
	defer t.Stop()

	m.refresh(ctx, &g)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.refresh(ctx, &g)
		case <-m.kick:
			m.refresh(ctx, &g)
		}
	}
}

// refresh reconciles the monitor set with the active domain ids. Monitors are
// started without holding m.mu so Guests never waits on libvirt.
func (m *Manager) refresh(ctx context.Context, g *errgroup.Group) {
	ids, err := m.lister.ActiveDomainIDs(ctx)
	if err != nil {
		m.logger.Warn("list active guests failed", "error", err)
		return
	}
	active := make(map[int32]bool, len(ids))
	for _, id := range ids {
		active[id] = true
	}

	m.mu.Lock()
	m.reapLocked()
	var stale []monitorEntry
	for id, e := range m.monitors {
		if !active[id] {
			stale = append(stale, e)
			delete(m.monitors, id)
		}
	}
	var fresh []int32
	for _, id := range ids {
		if _, ok := m.monitors[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	m.mu.Unlock()

	// A stale monitor still holds its recorder; let it close before a
	// replacement for the same guest opens one.
	m.retire(ctx, stale, "guest id no longer active")

	slices.Sort(fresh)
	for _, id := range fresh {
		if ctx.Err() != nil {
			return
		}
		mon := m.newMonitor(id)
		if err := mon.Start(ctx); err != nil {
			m.logger.Debug("guest monitor not started", "guest_id", id, "error", err)
			continue
		}
		m.launch(ctx, g, mon)
	}
}

// launch registers a started monitor and runs it. If another monitor already
// covers the same UUID, the one with the higher domain id wins, since libvirt
// hands out ids in increasing order.
func (m *Manager) launch(ctx context.Context, g *errgroup.Group, mon *Monitor) {
	mctx, cancel := context.WithCancel(ctx)
	ident, _ := mon.props.Identity()

	m.mu.Lock()
	var sameUUID []int32
	for id, e := range m.monitors {
		if other, _ := e.mon.props.Identity(); other.UUID == ident.UUID {
			sameUUID = append(sameUUID, id)
		}
	}
	for _, id := range sameUUID {
		if id > mon.ID() {
			m.mu.Unlock()
			m.logger.Debug("guest already monitored under a newer id", "guest_id", mon.ID(), "uuid", ident.UUID, "newer_id", id)
			cancel()
			mon.Run(mctx)
			return
		}
	}
	replaced := make([]monitorEntry, 0, len(sameUUID))
	for _, id := range sameUUID {
		replaced = append(replaced, m.monitors[id])
		delete(m.monitors, id)
	}
	m.monitors[mon.ID()] = monitorEntry{mon: mon, cancel: cancel}
	m.mu.Unlock()

	m.retire(ctx, replaced, "guest restarted under a new id")
	g.Go(func() error {
		defer cancel()
		mon.Run(mctx)
		return nil
	})
}

// retire cancels the given monitors and waits for them to stop.
func (m *Manager) retire(ctx context.Context, entries []monitorEntry, reason string) {
	for _, e := range entries {
		m.logger.Info("stopping guest monitor", "guest_id", e.mon.ID(), "reason", reason)
		e.cancel()
	}
	for _, e := range entries {
		select {
		case <-e.mon.Done():
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reapLocked() {
	for id, e := range m.monitors {
		select {
		case <-e.mon.Done():
			delete(m.monitors, id)
		default:
		}
	}
}

// Guests returns a snapshot of every live monitor ordered by guest id.
func (m *Manager) Guests() []GuestSnapshot {
	m.mu.Lock()
	mons := make([]*Monitor, 0, len(m.monitors))
	for _, e := range m.monitors {
		mons = append(mons, e.mon)
	}
	m.mu.Unlock()

	sort.Slice(mons, func(i, j int) bool { return mons[i].ID() < mons[j].ID() })
	out := make([]GuestSnapshot, 0, len(mons))
	for _, mon := range mons {
		snap := mon.props.view()
		snap.State = mon.State()
		out = append(out, snap)
	}
	return out
}
