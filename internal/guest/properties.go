package guest

import (
	"errors"
	"maps"
	"sync"
	"time"
)

const (
	PropID   = "id"
	PropUUID = "uuid"
	PropName = "name"
	PropPID  = "pid"
)

var ErrIdentityPublished = errors.New("guest identity already published")

// Sample is a point-in-time set of metric values keyed by field name.
type Sample map[string]any

// Identity holds the write-once identity fields of a guest.
// PID is 0 when the hypervisor process could not be resolved.
type Identity struct {
	ID   int32  `json:"id"`
	UUID string `json:"uuid"`
	Name string `json:"name"`
	PID  int32  `json:"pid,omitempty"`
}

func (i Identity) HasPID() bool {
	return i.PID > 0
}

// Properties is the per-guest property store. Every read and write goes
// through mu; the lock is never held across collector calls or I/O.
type Properties struct {
	mu sync.Mutex

	id          int32
	identity    Identity
	hasIdentity bool
	sample      Sample
	ready       bool
	updatedAt   time.Time
}

func NewProperties(id int32) *Properties {
	return &Properties{id: id, sample: Sample{}}
}

// PublishIdentity sets uuid, pid and name in one lock hold.
func (p *Properties) PublishIdentity(ident Identity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hasIdentity {
		return ErrIdentityPublished
	}
	ident.ID = p.id
	p.identity = ident
	p.hasIdentity = true
	return nil
}

// Identity reports the identity fields, or false if they are not published yet.
func (p *Properties) Identity() (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasIdentity {
		return Identity{ID: p.id}, false
	}
	return p.identity, true
}

// PublishSample replaces the metric fields with s. The store keeps its own
// copy so the caller may reuse s.
func (p *Properties) PublishSample(s Sample, ready bool, at time.Time) {
	next := maps.Clone(s)
	if next == nil {
		next = Sample{}
	}
	p.mu.Lock()
	p.sample = next
	p.ready = ready
	p.updatedAt = at
	p.mu.Unlock()
}

// Sample returns a copy of the current metric fields.
func (p *Properties) Sample() Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.sample)
}

// Ready reports whether the last cycle completed without collector failures.
func (p *Properties) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *Properties) UpdatedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updatedAt
}

// Get looks up an identity or metric field by name. An unresolved pid is
// reported as present with a nil value.
func (p *Properties) Get(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == PropID {
		return p.id, true
	}
	if p.hasIdentity {
		switch key {
		case PropUUID:
			return p.identity.UUID, true
		case PropName:
			return p.identity.Name, true
		case PropPID:
			if !p.identity.HasPID() {
				return nil, true
			}
			return p.identity.PID, true
		}
	}
	v, ok := p.sample[key]
	return v, ok
}

// Snapshot copies identity and metric fields into one map.
func (p *Properties) Snapshot() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]any, len(p.sample)+4)
	for k, v := range p.sample {
		out[k] = v
	}
	out[PropID] = p.id
	if p.hasIdentity {
		out[PropUUID] = p.identity.UUID
		out[PropName] = p.identity.Name
		if p.identity.HasPID() {
			out[PropPID] = p.identity.PID
		} else {
			out[PropPID] = nil
		}
	}
	return out
}

// view copies everything a read-side consumer needs under one lock hold.
func (p *Properties) view() GuestSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ident := p.identity
	if !p.hasIdentity {
		ident = Identity{ID: p.id}
	}
	return GuestSnapshot{
		Identity:  ident,
		Ready:     p.ready,
		UpdatedAt: p.updatedAt,
		Sample:    maps.Clone(p.sample),
	}
}
