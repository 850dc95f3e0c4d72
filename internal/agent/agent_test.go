package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aurora-guest-monitor/internal/config"
	"aurora-guest-monitor/internal/guest"
	"aurora-guest-monitor/internal/metrics"
	"aurora-guest-monitor/internal/model"
	"aurora-guest-monitor/internal/plot"
)

type noGuests struct{}

func (noGuests) ActiveDomainIDs(context.Context) ([]int32, error) { return nil, nil }

func testAgent() *Agent {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := guest.NewManager(noGuests{}, time.Hour, func(int32) *guest.Monitor { return nil }, logger)
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewExporter(manager, "node-a"))
	return &Agent{
		cfg: config.Config{
			NodeID:          "node-a",
			AgentVersion:    config.HardcodedVersion,
			StreamMode:      config.StreamModeNone,
			ProbeListenAddr: "127.0.0.1:0",
		},
		logger:   logger,
		manager:  manager,
		registry: registry,
		health:   NewHealthStatus(),
	}
}

func TestHealthStatus_Snapshot(t *testing.T) {
	h := NewHealthStatus()
	snap := h.Snapshot()
	if snap["libvirt_connected"] != false || snap["active_guests"] != int64(0) {
		t.Errorf("initial snapshot = %v", snap)
	}
	if _, ok := snap["last_guest_sample_at"]; ok {
		t.Error("last_guest_sample_at present before any sample")
	}

	t1 := time.Unix(1700000100, 0).UTC()
	h.SetLibvirtConnected(true)
	h.SetActiveGuests(3)
	h.MarkGuestSample(t1)
	h.MarkGuestSample(t1.Add(-time.Minute))

	snap = h.Snapshot()
	if snap["libvirt_connected"] != true || h.ActiveGuests() != 3 {
		t.Errorf("snapshot = %v", snap)
	}
	if got := snap["last_guest_sample_at"].(time.Time); !got.Equal(t1) {
		t.Errorf("last_guest_sample_at = %s, want %s (older samples ignored)", got, t1)
	}
}

func TestWriteProbe(t *testing.T) {
	a := testAgent()
	a.health.SetActiveGuests(2)

	var b strings.Builder
	if err := a.writeProbe(&b); err != nil {
		t.Fatal(err)
	}
	line := b.String()
	if !strings.HasSuffix(line, "\n") || strings.Count(line, "\n") != 1 {
		t.Fatalf("probe response %q is not a single line", line)
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["node_id"] != "node-a" || resp["active_guests"] != float64(2) || resp["stream_mode"] != "none" {
		t.Errorf("probe response = %v", resp)
	}
}

func TestRunProbeListener(t *testing.T) {
	a := testAgent()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	a.cfg.ProbeListenAddr = ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.runProbeListener(ctx) }()

	var conn net.Conn
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err = net.Dial("tcp", a.cfg.ProbeListenAddr)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial probe: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	_ = conn.Close()
	if err != nil || !strings.Contains(line, `"agent_version"`) {
		t.Errorf("probe line = %q, err = %v", line, err)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("runProbeListener() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("probe listener did not stop")
	}
}

func TestMetricsHandler(t *testing.T) {
	a := testAgent()
	a.health.SetLibvirtConnected(true)
	h := a.metricsHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"libvirt_connected":true`) {
		t.Errorf("/healthz = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guests", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("/guests = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d", rec.Code)
	}
}

type stubPublisher struct{ err error }

func (p stubPublisher) PublishGuestSample(context.Context, model.GuestFrame) error { return p.err }
func (stubPublisher) Close(context.Context) error                                  { return nil }

func TestHealthPublisher(t *testing.T) {
	h := NewHealthStatus()
	p := &healthPublisher{publisher: stubPublisher{}, health: h}
	if err := p.PublishGuestSample(context.Background(), model.GuestFrame{TimestampUnix: 1700000000}); err != nil {
		t.Fatal(err)
	}
	if h.Snapshot()["stream_connected"] != true {
		t.Error("stream_connected not set after a successful publish")
	}

	p.publisher = stubPublisher{err: io.ErrClosedPipe}
	if err := p.PublishGuestSample(context.Background(), model.GuestFrame{}); err == nil {
		t.Fatal("expected publish error")
	}
	if h.Snapshot()["stream_connected"] != false {
		t.Error("stream_connected still true after a failed publish")
	}
}

func TestRecorderOpener_PlotColumns(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	open := newRecorderOpener(config.Config{PlotColumns: []string{"proc_threads", "cpu_time_ns"}}, logger)
	rec, ok := open("vm1").(*plot.Plotter)
	if !ok {
		t.Fatalf("recorder type %T", open("vm1"))
	}
	defer rec.Close()
	if got := strings.Join(rec.Columns(), ","); got != "cpu_time_ns,proc_threads" {
		t.Errorf("Columns() = %q, want configured columns", got)
	}

	open = newRecorderOpener(config.Config{}, logger)
	rec = open("vm1").(*plot.Plotter)
	defer rec.Close()
	if cols := rec.Columns(); cols != nil {
		t.Errorf("Columns() = %v, want nil until the first sample", cols)
	}
}
