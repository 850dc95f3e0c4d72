package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"aurora-guest-monitor/internal/config"
)

// NewPublisherFromConfig returns nil when streaming is disabled.
func NewPublisherFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Publisher, error) {
	switch cfg.StreamMode {
	case config.StreamModeNone, "":
		return nil, nil
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, cfg.GRPCGuestStreamMethod, cfg.StreamBufferSize, cfg.StreamSendTimeout, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.BackendWSURL, cfg.BackendToken, tlsCfg, cfg.WebSocketWriteTimeout, cfg.WebSocketPingInterval, cfg.StreamBufferSize, logger), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
