package libvirt

import (
	"context"
	"log/slog"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
)

type DomainEvent struct {
	Type      string    `json:"type"`
	DomainID  int32     `json:"domain_id"`
	UUID      string    `json:"uuid"`
	Domain    string    `json:"domain"`
	Timestamp time.Time `json:"timestamp"`
}

// EventMonitor relays libvirt lifecycle events. While no subscription can be
// made it emits a heartbeat every interval instead.
type EventMonitor struct {
	conn     *ConnManager
	logger   *slog.Logger
	interval time.Duration
}

func NewEventMonitor(conn *ConnManager, interval time.Duration, logger *slog.Logger) *EventMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &EventMonitor{conn: conn, logger: logger.With("component", "libvirt_events"), interval: interval}
}

func (m *EventMonitor) Run(ctx context.Context, out chan<- DomainEvent) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if events, ok := m.subscribe(ctx); ok {
			m.relay(ctx, events, out)
		}
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			m.emit(out, DomainEvent{Type: "heartbeat", Timestamp: t.UTC()})
		}
	}
}

func (m *EventMonitor) subscribe(ctx context.Context) (<-chan golibvirt.DomainEventLifecycleMsg, bool) {
	client, err := m.conn.Client()
	if err != nil {
		return nil, false
	}
	events, err := client.LifecycleEvents(ctx)
	if err != nil {
		m.logger.Debug("lifecycle event subscription failed", "error", err)
		return nil, false
	}
	return events, true
}

// relay forwards events until the stream closes, e.g. on disconnect.
func (m *EventMonitor) relay(ctx context.Context, events <-chan golibvirt.DomainEventLifecycleMsg, out chan<- DomainEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.emit(out, DomainEvent{
				Type:      lifecycleEventString(golibvirt.DomainEventType(ev.Event)),
				DomainID:  ev.Dom.ID,
				UUID:      uuid.UUID(ev.Dom.UUID).String(),
				Domain:    ev.Dom.Name,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

func (m *EventMonitor) emit(out chan<- DomainEvent, ev DomainEvent) {
	select {
	case out <- ev:
	default:
		m.logger.Debug("dropping domain event because channel is full", "type", ev.Type)
	}
}

func lifecycleEventString(t golibvirt.DomainEventType) string {
	switch t {
	case golibvirt.DomainEventDefined:
		return "defined"
	case golibvirt.DomainEventUndefined:
		return "undefined"
	case golibvirt.DomainEventStarted:
		return "started"
	case golibvirt.DomainEventSuspended:
		return "suspended"
	case golibvirt.DomainEventResumed:
		return "resumed"
	case golibvirt.DomainEventStopped:
		return "stopped"
	case golibvirt.DomainEventShutdown:
		return "shutdown"
	case golibvirt.DomainEventPmsuspended:
		return "pmsuspended"
	case golibvirt.DomainEventCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}
