// Package collector provides the named guest collectors a monitor runs every
// cycle and the factory that builds them from the configured name list.
package collector

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"aurora-guest-monitor/internal/guest"
)

// Constructor builds one collector bound to a guest.
type Constructor func(target guest.Target) (guest.Collector, error)

// Factory maps collector names to constructors.
type Factory struct {
	constructors map[string]Constructor
	logger       *slog.Logger
}

var _ guest.CollectorFactory = (*Factory)(nil)

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{constructors: map[string]Constructor{}, logger: logger}
}

// NewDefaultFactory registers the built-in collectors. newInspector is called
// once per qemu_proc collector so per-process CPU accounting is not shared
// between guests.
func NewDefaultFactory(stats DomainStatsSource, newInspector func() ProcessInspector, logger *slog.Logger) *Factory {
	f := NewFactory(logger)
	f.Register(DomainStatsName, func(target guest.Target) (guest.Collector, error) {
		return NewDomainStatsCollector(stats, target.Domain), nil
	})
	f.Register(QemuProcName, func(target guest.Target) (guest.Collector, error) {
		return NewQemuProcCollector(newInspector(), target.Properties), nil
	})
	return f
}

func (f *Factory) Register(name string, c Constructor) {
	f.constructors[name] = c
}

// Names returns the registered collector names in sorted order.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports unknown names without building anything.
func (f *Factory) Validate(names []string) error {
	for _, name := range names {
		if _, ok := f.constructors[strings.TrimSpace(name)]; !ok {
			return fmt.Errorf("unknown collector %q (available: %s)", name, strings.Join(f.Names(), ", "))
		}
	}
	return nil
}

// Build returns one collector per name, in the order given.
func (f *Factory) Build(names []string, target guest.Target) ([]guest.Collector, error) {
	out := make([]guest.Collector, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		ctor, ok := f.constructors[name]
		if !ok {
			return nil, fmt.Errorf("unknown collector %q", name)
		}
		c, err := ctor(target)
		if err != nil {
			return nil, fmt.Errorf("build collector %s: %w", name, err)
		}
		out = append(out, c)
	}
	if f.logger != nil {
		f.logger.Debug("collectors built", "guest_id", target.ID, "collectors", names)
	}
	return out, nil
}
