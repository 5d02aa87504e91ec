package client

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes negotiation workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.rates.<event_type>. Event types are
// rate_submission, counter_proposal, approval_required, approval_completed
// and negotiation_rejected.
//
// All publish operations are non-fatal. Errors are logged but never
// propagated, so notification failures never interrupt negotiation
// operations.
type NotificationPublisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	OrgID        string         `json:"org_id"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a publisher that drops everything,
// which keeps local development working without NATS.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nc: nc, log: log}
}

// PublishNegotiationEvent publishes a negotiation workflow event.
// Subject: notifications.rates.<eventType>
func (p *NotificationPublisher) PublishNegotiationEvent(eventType, negotiationID, orgID, actorID string, recipients []string, payload map[string]any) {
	if p.nc == nil {
		return
	}

	// Events without recipients are org-level broadcasts.
	event := &NotificationEvent{
		EventType:    eventType,
		OrgID:        orgID,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "negotiation",
		ResourceID:   negotiationID,
		IsActionable: len(recipients) > 0,
		Severity:     "info",
		Category:     "rate_negotiation",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.rates.%s", eventType)
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("negotiation_id", negotiationID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("negotiation_id", negotiationID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
