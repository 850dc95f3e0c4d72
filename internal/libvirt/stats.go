package libvirt

import (
	"context"
	"fmt"
	"strings"

	golibvirt "github.com/digitalocean/go-libvirt"

	"aurora-guest-monitor/internal/guest"
)

const statsMask = uint32(golibvirt.DomainStatsCPUTotal | golibvirt.DomainStatsBalloon | golibvirt.DomainStatsInterface | golibvirt.DomainStatsBlock | golibvirt.DomainStatsVCPU)

// DomainStats is one bulk-stats reading of a single domain. Counters are
// cumulative; memory values are in bytes.
type DomainStats struct {
	CPUTimeNs       uint64
	VCPUCount       uint64
	BalloonCurrent  uint64
	BalloonMaximum  uint64
	BalloonRSS      uint64
	BlockReadBytes  uint64
	BlockWriteBytes uint64
	NetRxBytes      uint64
	NetTxBytes      uint64
	HasBalloon      bool
}

// DomainStats reads bulk stats for one domain handle.
func (v *Virt) DomainStats(_ context.Context, dom guest.Domain) (DomainStats, error) {
	d, ok := dom.(*Domain)
	if !ok || d == nil {
		return DomainStats{}, fmt.Errorf("unsupported domain handle %T", dom)
	}
	client, err := v.conn.Client()
	if err != nil {
		return DomainStats{}, err
	}
	records, err := client.ConnectGetAllDomainStats([]golibvirt.Domain{d.raw}, statsMask, 0)
	if err != nil {
		return DomainStats{}, fmt.Errorf("ConnectGetAllDomainStats: %w", err)
	}
	if len(records) == 0 {
		return DomainStats{}, fmt.Errorf("no stats for domain %s", d.raw.Name)
	}
	return parseStats(records[0].Params), nil
}

func parseStats(params []golibvirt.TypedParam) DomainStats {
	fields := make(map[string]uint64, len(params))
	for _, p := range params {
		if _, isString := p.Value.I.(string); isString {
			continue
		}
		fields[p.Field] = asUint64(p.Value.I)
	}

	st := DomainStats{
		CPUTimeNs: fields[golibvirt.DomainStatsCPUTime],
		VCPUCount: fields[golibvirt.DomainStatsVCPUCurrent],
	}
	if cur, ok := fields[golibvirt.DomainStatsBalloonCurrent]; ok {
		st.HasBalloon = true
		st.BalloonCurrent = cur * 1024
		st.BalloonMaximum = fields[golibvirt.DomainStatsBalloonMaximum] * 1024
		st.BalloonRSS = fields["balloon.rss"] * 1024
	}
	st.BlockReadBytes, st.BlockWriteBytes = sumBySuffix(fields, "block.", golibvirt.DomainStatsBlockSuffixRdBytes, golibvirt.DomainStatsBlockSuffixWrBytes)
	st.NetRxBytes, st.NetTxBytes = sumBySuffix(fields, "net.", golibvirt.DomainStatsNetSuffixRxBytes, golibvirt.DomainStatsNetSuffixTxBytes)
	return st
}

func sumBySuffix(fields map[string]uint64, prefix, readSuffix, writeSuffix string) (uint64, uint64) {
	var read, write uint64
	for k, v := range fields {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		switch {
		case strings.HasSuffix(k, readSuffix):
			read += v
		case strings.HasSuffix(k, writeSuffix):
			write += v
		}
	}
	return read, write
}

func asUint64(v any) uint64 {
	switch t := v.(type) {
	case uint64:
		return t
	case uint32:
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int32:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	default:
		return 0
	}
}
