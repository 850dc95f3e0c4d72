package stream

import (
	"context"
	"encoding/json"

	"aurora-guest-monitor/internal/model"
)

// Publisher pushes guest samples to a backend. Implementations are safe for
// concurrent use by every guest monitor.
type Publisher interface {
	PublishGuestSample(ctx context.Context, f model.GuestFrame) error
	Close(ctx context.Context) error
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewGuestEnvelope(f model.GuestFrame) model.Envelope {
	return model.Envelope{
		Type:          model.MetricTypeGuestSample,
		NodeID:        f.NodeID,
		TimestampUnix: f.TimestampUnix,
		Payload:       f,
	}
}
