package model

// GuestFrame carries one monitor cycle of a single guest.
type GuestFrame struct {
	NodeID        string         `json:"node_id"`
	GuestID       int32          `json:"guest_id"`
	UUID          string         `json:"uuid"`
	Name          string         `json:"name"`
	PID           int32          `json:"pid,omitempty"`
	Ready         bool           `json:"ready"`
	TimestampUnix int64          `json:"timestamp_unix"`
	Metrics       map[string]any `json:"metrics"`
}
