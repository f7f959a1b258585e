package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/session"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
)

// Kafka topics for session lifecycle events.
var (
	TopicSessionStarted = pkgkafka.Topic("session", "started")
	TopicSessionEnded   = pkgkafka.Topic("session", "ended")
)

// publishTimeout bounds a single publish so a slow broker cannot hold up
// login or logout.
const publishTimeout = 2 * time.Second

// SessionStartedData is the payload of a session.started event. The
// envelope carries the visitor and user IDs.
type SessionStartedData struct {
	Role      string `json:"role"`
	Wholesale bool   `json:"wholesale"`
}

// SessionEndedData is the payload of a session.ended event.
type SessionEndedData struct {
	Reason string `json:"reason"`
}

type publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes session events to Kafka. It implements session.Events;
// failures are logged and never reach the caller.
type Producer struct {
	kafka  publisher
	logger *slog.Logger
}

// NewProducer creates a session event producer.
func NewProducer(kafka *pkgkafka.Producer, log *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: log,
	}
}

// SessionStarted publishes a session.started event.
func (p *Producer) SessionStarted(ctx context.Context, visitorID string, user *domain.User) {
	if user == nil {
		return
	}
	data := SessionStartedData{
		Role:      user.Role,
		Wholesale: user.IsWholesale(),
	}
	p.publish(ctx, TopicSessionStarted, visitorID, string(user.ID), data)
}

// SessionEnded publishes a session.ended event.
func (p *Producer) SessionEnded(ctx context.Context, visitorID string, user *domain.User, reason session.Reason) {
	var userID string
	if user != nil {
		userID = string(user.ID)
	}
	p.publish(ctx, TopicSessionEnded, visitorID, userID, SessionEndedData{Reason: string(reason)})
}

func (p *Producer) publish(ctx context.Context, topic, visitorID, userID string, data any) {
	evt, err := pkgkafka.NewSessionEvent(topic, visitorID, data)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to build session event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	evt.WithUser(userID)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		p.logger.WarnContext(ctx, "failed to publish session event",
			slog.String("topic", topic),
			slog.String("visitor_id", visitorID),
			slog.String("error", fmt.Sprint(err)),
		)
	}
}

// Noop discards session events. It is used when Kafka is disabled.
type Noop struct{}

func (Noop) SessionStarted(context.Context, string, *domain.User) {}

func (Noop) SessionEnded(context.Context, string, *domain.User, session.Reason) {}
