package version

import (
	"time"

	"aurora-guest-monitor/internal/config"
)

func Get(cfg config.Config, activeGuests int) *GetVersionResponse {
	return &GetVersionResponse{
		NodeID:          cfg.NodeID,
		AgentVersion:    cfg.AgentVersion,
		StreamMode:      string(cfg.StreamMode),
		ProbeListenAddr: cfg.ProbeListenAddr,
		ActiveGuests:    activeGuests,
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}
