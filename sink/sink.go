// Package sink publishes detection events for downstream consumers
// (alerting, recording), decoupled from the per-client response path.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nee-hit476/Jenji/detect"
)

// Message is one detection event: everything a downstream alerting
// pipeline needs to react to what was seen on a client's stream.
type Message struct {
	ClientID   string             `json:"client_id"`
	ServerID   string             `json:"server_id"`
	Detections []detect.Detection `json:"detections"`
	Count      int                `json:"count"`
	Timestamp  time.Time          `json:"timestamp"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis publishing.
func (m Message) MarshalBinary() ([]byte, error) {
	return json.Marshal(m)
}

// Sink is a best-effort, one-way event publisher.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
	Type() string
	Close() error
}

// NopSink discards all events. Used when no sink is configured.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, msg Message) error { return nil }
func (NopSink) Type() string                                   { return "none" }
func (NopSink) Close() error                                   { return nil }
