package collector

import (
	"context"
	"runtime"
	"time"

	"aurora-guest-monitor/internal/guest"
	"aurora-guest-monitor/internal/libvirt"
)

const DomainStatsName = "domain_stats"

// DomainStatsSource reads libvirt bulk stats for one domain.
type DomainStatsSource interface {
	DomainStats(ctx context.Context, dom guest.Domain) (libvirt.DomainStats, error)
}

// DomainStatsCollector reports libvirt counters for one guest. CPU usage is
// derived from the cpu.time delta between consecutive cycles.
type DomainStatsCollector struct {
	source DomainStatsSource
	domain guest.Domain
	cores  float64
	now    func() time.Time

	prevCPUNs uint64
	prevAt    time.Time
}

func NewDomainStatsCollector(source DomainStatsSource, domain guest.Domain) *DomainStatsCollector {
	return &DomainStatsCollector{
		source: source,
		domain: domain,
		cores:  float64(runtime.NumCPU()),
		now:    time.Now,
	}
}

func (c *DomainStatsCollector) Name() string { return DomainStatsName }

func (c *DomainStatsCollector) Collect(ctx context.Context) (guest.Sample, error) {
	st, err := c.source.DomainStats(ctx, c.domain)
	if err != nil {
		return nil, err
	}
	now := c.now()
	s := guest.Sample{
		"cpu_usage_pct": c.computeCPU(st.CPUTimeNs, now),
		"vcpu_count":    st.VCPUCount,
		"disk_rd_bytes": st.BlockReadBytes,
		"disk_wr_bytes": st.BlockWriteBytes,
		"net_rx_bytes":  st.NetRxBytes,
		"net_tx_bytes":  st.NetTxBytes,
	}
	// Guests without a balloon device leave these out so plot rows for them
	// are reported as incomplete rather than as zero memory.
	if st.HasBalloon {
		s["balloon_cur"] = st.BalloonCurrent
		s["balloon_max"] = st.BalloonMaximum
	}
	return s, nil
}

func (c *DomainStatsCollector) computeCPU(cpuNs uint64, at time.Time) float64 {
	prevNs, prevAt := c.prevCPUNs, c.prevAt
	c.prevCPUNs, c.prevAt = cpuNs, at
	if prevAt.IsZero() || cpuNs <= prevNs {
		return 0
	}
	dt := at.Sub(prevAt).Seconds()
	if dt <= 0 {
		return 0
	}
	cpuDeltaSeconds := float64(cpuNs-prevNs) / float64(time.Second)
	usage := (cpuDeltaSeconds / dt) * (100.0 / c.cores)
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}
