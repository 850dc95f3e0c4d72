package guest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"aurora-guest-monitor/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDomain struct {
	uuid string
	name string
}

func (d fakeDomain) UUIDString() string { return d.uuid }
func (d fakeDomain) Name() string       { return d.name }

type fakeVirt struct {
	mu      sync.Mutex
	domains map[int32]Domain
	running map[int32]bool
	checks  atomic.Int64
}

func newFakeVirt() *fakeVirt {
	return &fakeVirt{domains: map[int32]Domain{}, running: map[int32]bool{}}
}

func (v *fakeVirt) add(id int32, uuid, name string, running bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.domains[id] = fakeDomain{uuid: uuid, name: name}
	v.running[id] = running
}

func (v *fakeVirt) setRunning(id int32, running bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.running[id] = running
}

// restart moves a domain to a new id, as libvirt does when a guest is
// stopped and started again.
func (v *fakeVirt) restart(oldID, newID int32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.domains[newID] = v.domains[oldID]
	v.running[newID] = true
	delete(v.domains, oldID)
	delete(v.running, oldID)
}

func (v *fakeVirt) DomainFromID(_ context.Context, id int32) (Domain, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	d, ok := v.domains[id]
	return d, ok
}

func (v *fakeVirt) DomainIsRunning(_ context.Context, dom Domain) bool {
	v.checks.Add(1)
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, d := range v.domains {
		if d == dom {
			return v.running[id]
		}
	}
	return false
}

func (v *fakeVirt) ActiveDomainIDs(context.Context) ([]int32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var ids []int32
	for id, ok := range v.running {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeLocator struct {
	pid int32
	err error
}

func (l fakeLocator) Resolve(context.Context, string) (int32, error) {
	return l.pid, l.err
}

// blockingLocator holds Resolve until release is closed.
type blockingLocator struct {
	release chan struct{}
	entered chan struct{}
}

func (l *blockingLocator) Resolve(ctx context.Context, _ string) (int32, error) {
	select {
	case l.entered <- struct{}{}:
	default:
	}
	select {
	case <-l.release:
		return 1, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

var errNoValue = errors.New("no value this cycle")

type fakeCollector struct {
	name   string
	sample Sample
	fail   atomic.Bool
	calls  atomic.Int64
}

func (c *fakeCollector) Name() string { return c.name }

func (c *fakeCollector) Collect(context.Context) (Sample, error) {
	c.calls.Add(1)
	if c.fail.Load() {
		return nil, errNoValue
	}
	out := Sample{}
	for k, v := range c.sample {
		out[k] = v
	}
	return out, nil
}

type fakeFactory struct {
	collectors []Collector
	err        error
}

func (f fakeFactory) Build([]string, Target) ([]Collector, error) {
	return f.collectors, f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	samples []map[string]any
	closed  bool
}

func (r *fakeRecorder) Record(s map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	frames []model.GuestFrame
}

func (p *fakePublisher) PublishGuestSample(_ context.Context, f model.GuestFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	return nil
}
