// Package metrics exposes the latest per-guest samples as Prometheus gauges.
package metrics

import (
	"math"
	"slices"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"aurora-guest-monitor/internal/guest"
)

const namespace = "aurora_guest"

// GuestSource is satisfied by guest.Manager.
type GuestSource interface {
	Guests() []guest.GuestSnapshot
}

// Exporter is a prometheus.Collector that reads guest snapshots on every
// scrape. Values are never cached. Every series carries guest_id so two
// snapshots of one UUID, e.g. across a guest restart, stay distinct.
type Exporter struct {
	source GuestSource
	nodeID string

	infoDesc    *prometheus.Desc
	readyDesc   *prometheus.Desc
	updatedDesc *prometheus.Desc
	valueDesc   *prometheus.Desc
}

func NewExporter(source GuestSource, nodeID string) *Exporter {
	constLabels := prometheus.Labels{"node_id": nodeID}
	return &Exporter{
		source: source,
		nodeID: nodeID,
		infoDesc: prometheus.NewDesc(namespace+"_info",
			"Identity of a monitored guest",
			[]string{"guest_id", "uuid", "name", "pid", "state"}, constLabels),
		readyDesc: prometheus.NewDesc(namespace+"_ready",
			"1 if the last collection cycle had no collector failures",
			[]string{"guest_id", "uuid", "name"}, constLabels),
		updatedDesc: prometheus.NewDesc(namespace+"_last_sample_timestamp_seconds",
			"Unix time of the last published sample",
			[]string{"guest_id", "uuid", "name"}, constLabels),
		valueDesc: prometheus.NewDesc(namespace+"_metric",
			"Latest numeric value of a collected guest field",
			[]string{"guest_id", "uuid", "name", "key"}, constLabels),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.infoDesc
	ch <- e.readyDesc
	ch <- e.updatedDesc
	ch <- e.valueDesc
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, g := range e.source.Guests() {
		id := g.Identity
		guestID := strconv.FormatInt(int64(id.ID), 10)
		pid := ""
		if id.HasPID() {
			pid = strconv.FormatInt(int64(id.PID), 10)
		}
		ch <- prometheus.MustNewConstMetric(e.infoDesc, prometheus.GaugeValue, 1,
			guestID, id.UUID, id.Name, pid, g.State.String())

		ready := 0.0
		if g.Ready {
			ready = 1
		}
		ch <- prometheus.MustNewConstMetric(e.readyDesc, prometheus.GaugeValue, ready, guestID, id.UUID, id.Name)

		if g.UpdatedAt.IsZero() {
			continue
		}
		ch <- prometheus.MustNewConstMetric(e.updatedDesc, prometheus.GaugeValue,
			float64(g.UpdatedAt.UnixNano())/1e9, guestID, id.UUID, id.Name)

		keys := make([]string, 0, len(g.Sample))
		for k := range g.Sample {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			v, ok := asFloat64(g.Sample[k])
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(e.valueDesc, prometheus.GaugeValue, v, guestID, id.UUID, id.Name, k)
		}
	}
}

// asFloat64 converts numeric sample values. Strings, NaN and other
// non-numeric values are skipped.
func asFloat64(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case bool:
		if n {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
