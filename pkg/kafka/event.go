package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TopicPrefix namespaces every topic this service publishes to.
const TopicPrefix = "storefront"

// SchemaVersion is the envelope version written by this service. Consumers
// must reject versions they do not know.
const SchemaVersion = 2

// Topic returns the fully qualified topic for a domain and action,
// e.g. Topic("session", "started") == "storefront.session.started".
func Topic(domain, action string) string {
	return TopicPrefix + "." + domain + "." + action
}

// Event is the envelope of a session lifecycle message. Messages are keyed
// by VisitorID, so one visitor's events stay ordered within a partition.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	VisitorID     string          `json:"visitor_id"`
	UserID        string          `json:"user_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewSessionEvent builds an event of eventType for visitorID. payload is
// encoded as JSON.
func NewSessionEvent(eventType, visitorID string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		SchemaVersion: SchemaVersion,
		OccurredAt:    time.Now().UTC(),
		VisitorID:     visitorID,
		Payload:       raw,
	}, nil
}

// WithUser records the authenticated user the event concerns.
func (e *Event) WithUser(id string) *Event {
	e.UserID = id
	return e
}

// WithCorrelationID sets the correlation ID on the event.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// headers returns the message headers consumers can filter on without
// decoding the value.
func (e *Event) headers() []header {
	h := []header{
		{"event_type", e.Type},
		{"visitor_id", e.VisitorID},
	}
	if e.UserID != "" {
		h = append(h, header{"user_id", e.UserID})
	}
	if e.CorrelationID != "" {
		h = append(h, header{"correlation_id", e.CorrelationID})
	}
	return h
}

type header struct {
	key, value string
}
