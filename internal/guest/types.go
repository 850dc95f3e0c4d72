package guest

import (
	"context"

	"aurora-guest-monitor/internal/model"
)

// Domain is a virtualization-layer handle for one running guest.
type Domain interface {
	UUIDString() string
	Name() string
}

// Virt is the part of the virtualization layer a monitor depends on.
// A missing handle or a false run state is an ordinary outcome (guest gone).
type Virt interface {
	DomainFromID(ctx context.Context, id int32) (Domain, bool)
	DomainIsRunning(ctx context.Context, dom Domain) bool
}

// DomainLister enumerates the ids of currently active guests.
type DomainLister interface {
	ActiveDomainIDs(ctx context.Context) ([]int32, error)
}

// Locator maps a guest UUID to the pid of its hypervisor process.
type Locator interface {
	Resolve(ctx context.Context, uuid string) (int32, error)
}

// Collector produces one set of metrics per monitor cycle.
type Collector interface {
	Name() string
	Collect(ctx context.Context) (Sample, error)
}

// Target is what a collector is bound to when it is built.
type Target struct {
	ID         int32
	Domain     Domain
	Properties *Properties
}

// CollectorFactory builds the configured collector set for one guest.
type CollectorFactory interface {
	Build(names []string, target Target) ([]Collector, error)
}

// Recorder persists samples for one guest, e.g. a plot file.
type Recorder interface {
	Record(sample map[string]any)
	Close() error
}

// Publisher forwards guest samples to a remote backend.
type Publisher interface {
	PublishGuestSample(ctx context.Context, frame model.GuestFrame) error
}
