package version

type GetVersionResponse struct {
	NodeID          string `json:"node_id"`
	AgentVersion    string `json:"agent_version"`
	StreamMode      string `json:"stream_mode"`
	ProbeListenAddr string `json:"probe_listen_addr"`
	ActiveGuests    int    `json:"active_guests"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`
}
