package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"aurora-guest-monitor/internal/guest"
)

type staticSource []guest.GuestSnapshot

func (s staticSource) Guests() []guest.GuestSnapshot { return s }

func TestExporter_Collect(t *testing.T) {
	src := staticSource{
		{
			Identity:  guest.Identity{ID: 1, UUID: "u-1", Name: "vm1", PID: 4242},
			State:     guest.StateRunning,
			Ready:     true,
			UpdatedAt: time.Unix(1700000000, 0),
			Sample:    guest.Sample{"vcpu_count": int64(2), "cpu_usage_pct": 12.5, "label": "x"},
		},
		{
			Identity: guest.Identity{ID: 2, UUID: "u-2", Name: "vm2"},
			State:    guest.StateRunning,
		},
	}
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewExporter(src, "node-a"))

	want := `
# HELP aurora_guest_metric Latest numeric value of a collected guest field
# TYPE aurora_guest_metric gauge
aurora_guest_metric{guest_id="1",key="cpu_usage_pct",name="vm1",node_id="node-a",uuid="u-1"} 12.5
aurora_guest_metric{guest_id="1",key="vcpu_count",name="vm1",node_id="node-a",uuid="u-1"} 2
# HELP aurora_guest_ready 1 if the last collection cycle had no collector failures
# TYPE aurora_guest_ready gauge
aurora_guest_ready{guest_id="1",name="vm1",node_id="node-a",uuid="u-1"} 1
aurora_guest_ready{guest_id="2",name="vm2",node_id="node-a",uuid="u-2"} 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "aurora_guest_metric", "aurora_guest_ready"); err != nil {
		t.Fatal(err)
	}

	if n := testutil.CollectAndCount(NewExporter(src, "node-a"), "aurora_guest_info"); n != 2 {
		t.Errorf("info series = %d, want 2", n)
	}
	if n := testutil.CollectAndCount(NewExporter(src, "node-a"), "aurora_guest_last_sample_timestamp_seconds"); n != 1 {
		t.Errorf("timestamp series = %d, want 1 (guest without sample skipped)", n)
	}
}

func TestExporter_SameUUIDUnderTwoIDs(t *testing.T) {
	at := time.Unix(1700000000, 0)
	src := staticSource{
		{Identity: guest.Identity{ID: 3, UUID: "u-1", Name: "vm1"}, State: guest.StateStopped, Ready: true, UpdatedAt: at, Sample: guest.Sample{"vcpu_count": 2}},
		{Identity: guest.Identity{ID: 7, UUID: "u-1", Name: "vm1"}, State: guest.StateRunning, Ready: true, UpdatedAt: at, Sample: guest.Sample{"vcpu_count": 4}},
	}
	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(NewExporter(src, "node-a"))

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	want := `
# HELP aurora_guest_metric Latest numeric value of a collected guest field
# TYPE aurora_guest_metric gauge
aurora_guest_metric{guest_id="3",key="vcpu_count",name="vm1",node_id="node-a",uuid="u-1"} 2
aurora_guest_metric{guest_id="7",key="vcpu_count",name="vm1",node_id="node-a",uuid="u-1"} 4
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "aurora_guest_metric"); err != nil {
		t.Fatal(err)
	}
}

func TestAsFloat64(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{in: 3, want: 3, ok: true},
		{in: uint64(7), want: 7, ok: true},
		{in: 1.25, want: 1.25, ok: true},
		{in: true, want: 1, ok: true},
		{in: "12", ok: false},
		{in: nil, ok: false},
	}
	for _, tt := range tests {
		got, ok := asFloat64(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("asFloat64(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
