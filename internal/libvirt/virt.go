package libvirt

import (
	"context"
	"fmt"
	"log/slog"

	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"

	"aurora-guest-monitor/internal/guest"
)

// Domain is a guest handle obtained from libvirt.
type Domain struct {
	raw golibvirt.Domain
}

func (d *Domain) UUIDString() string {
	return uuid.UUID(d.raw.UUID).String()
}

func (d *Domain) Name() string {
	return d.raw.Name
}

func (d *Domain) ID() int32 {
	return d.raw.ID
}

// Virt adapts the libvirt connection to the guest monitor's view of the
// virtualization layer. Lookup failures are reported as "no domain".
type Virt struct {
	conn   *ConnManager
	logger *slog.Logger
}

var (
	_ guest.Virt         = (*Virt)(nil)
	_ guest.DomainLister = (*Virt)(nil)
)

func NewVirt(conn *ConnManager, logger *slog.Logger) *Virt {
	return &Virt{conn: conn, logger: logger.With("component", "virt")}
}

func (v *Virt) DomainFromID(_ context.Context, id int32) (guest.Domain, bool) {
	client, err := v.conn.Client()
	if err != nil {
		v.logger.Debug("domain lookup skipped", "guest_id", id, "error", err)
		return nil, false
	}
	dom, err := client.DomainLookupByID(id)
	if err != nil {
		v.logger.Debug("domain lookup failed", "guest_id", id, "error", err)
		return nil, false
	}
	return &Domain{raw: dom}, true
}

func (v *Virt) DomainIsRunning(_ context.Context, dom guest.Domain) bool {
	d, ok := dom.(*Domain)
	if !ok || d == nil {
		return false
	}
	client, err := v.conn.Client()
	if err != nil {
		return false
	}
	state, _, err := client.DomainGetState(d.raw, 0)
	if err != nil {
		v.logger.Debug("domain state query failed", "guest_id", d.raw.ID, "error", err)
		return false
	}
	return golibvirt.DomainState(state) == golibvirt.DomainRunning
}

func (v *Virt) ActiveDomainIDs(_ context.Context) ([]int32, error) {
	client, err := v.conn.Client()
	if err != nil {
		return nil, err
	}
	doms, _, err := client.ConnectListAllDomains(1, golibvirt.ConnectListDomainsActive)
	if err != nil {
		return nil, fmt.Errorf("ConnectListAllDomains: %w", err)
	}
	ids := make([]int32, 0, len(doms))
	for _, d := range doms {
		if d.ID > 0 {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}
