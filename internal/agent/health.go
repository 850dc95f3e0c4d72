package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	libvirtConnected  atomic.Bool
	streamConnected   atomic.Bool
	activeGuests      atomic.Int64
	lastGuestSampleAt atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetLibvirtConnected(ok bool) {
	h.libvirtConnected.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) SetActiveGuests(n int) {
	h.activeGuests.Store(int64(n))
}

func (h *HealthStatus) ActiveGuests() int {
	return int(h.activeGuests.Load())
}

// MarkGuestSample records ts if it is newer than the last one seen.
func (h *HealthStatus) MarkGuestSample(ts time.Time) {
	v := ts.UnixNano()
	for {
		cur := h.lastGuestSampleAt.Load()
		if v <= cur || h.lastGuestSampleAt.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"libvirt_connected": h.libvirtConnected.Load(),
		"stream_connected":  h.streamConnected.Load(),
		"active_guests":     h.activeGuests.Load(),
	}
	if v := h.lastGuestSampleAt.Load(); v > 0 {
		out["last_guest_sample_at"] = time.Unix(0, v).UTC()
	}
	return out
}
