package collector

import (
	"context"
	"errors"

	"aurora-guest-monitor/internal/guest"
	"aurora-guest-monitor/internal/process"
)

const QemuProcName = "qemu_proc"

var ErrNoPID = errors.New("guest pid unknown")

// ProcessInspector reads statistics of a host process.
type ProcessInspector interface {
	Stats(ctx context.Context, pid int32) (process.Stats, error)
}

// QemuProcCollector reports host-side usage of the guest's hypervisor
// process. It produces nothing when the pid could not be resolved at start.
type QemuProcCollector struct {
	procs ProcessInspector
	props *guest.Properties
}

func NewQemuProcCollector(procs ProcessInspector, props *guest.Properties) *QemuProcCollector {
	return &QemuProcCollector{procs: procs, props: props}
}

func (c *QemuProcCollector) Name() string { return QemuProcName }

func (c *QemuProcCollector) Collect(ctx context.Context) (guest.Sample, error) {
	ident, ok := c.props.Identity()
	if !ok || !ident.HasPID() {
		return nil, ErrNoPID
	}
	st, err := c.procs.Stats(ctx, ident.PID)
	if err != nil {
		return nil, err
	}
	return guest.Sample{
		"proc_rss_bytes": st.RSSBytes,
		"proc_vms_bytes": st.VMSBytes,
		"proc_threads":   st.Threads,
		"proc_cpu_pct":   st.CPUPercent,
	}, nil
}
