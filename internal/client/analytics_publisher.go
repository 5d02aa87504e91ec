package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// AnalyticsPublisher forwards audit events to the analytics sink over NATS.
// Subject convention: analytics.rates.<event_type>
//
// Forwarding is best-effort: it runs after the ledger write and a failure is
// logged and swallowed, never surfaced to the business operation.
type AnalyticsPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// AnalyticsEvent is the JSON schema published to the sink.
type AnalyticsEvent struct {
	EventType string         `json:"event_type"`
	ActorID   string         `json:"actor_id"`
	OrgID     string         `json:"org_id"`
	Data      map[string]any `json:"data,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// NewAnalyticsPublisher creates a publisher backed by the given NATS
// connection. A nil connection drops everything.
func NewAnalyticsPublisher(nc *nats.Conn, log zerolog.Logger) *AnalyticsPublisher {
	return &AnalyticsPublisher{nc: nc, log: log}
}

// Track publishes one analytics event.
func (p *AnalyticsPublisher) Track(eventType, actorID, orgID string, data map[string]any) {
	if p.nc == nil {
		return
	}

	event := &AnalyticsEvent{
		EventType: eventType,
		ActorID:   actorID,
		OrgID:     orgID,
		Data:      data,
		EmittedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("analytics: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("analytics.rates.%s", eventType)
	if err := p.nc.Publish(subject, payload); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Msg("analytics: failed to publish event (non-fatal)")
	}
}
