// Package events publishes problem lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

// Subjects, relative to the configured prefix.
const (
	SubjectProblemCreated    = "problems.created"
	SubjectRCAStarted        = "problems.rca.started"
	SubjectRCAAdvanced       = "problems.rca.advanced"
	SubjectRCACompleted      = "problems.rca.completed"
	SubjectRCAAborted        = "problems.rca.aborted"
	SubjectProblemDeleted    = "problems.deleted"
	SubjectKnownErrorCreated = "known_errors.created"
	SubjectKnownErrorUsed    = "known_errors.used"
)

// Event is the envelope published for every lifecycle change.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Subject    string    `json:"subject"`
	EntityID   uuid.UUID `json:"entity_id"`
	Actor      *string   `json:"actor,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

// Publisher emits lifecycle events. Publishing is best effort: implementations
// log failures and never return them to the operation that triggered the event.
type Publisher interface {
	Publish(ctx context.Context, subject string, entityID uuid.UUID, data any)
}

// NoopPublisher discards events. Used when NATS is not configured.
type NoopPublisher struct{}

// Publish does nothing.
func (NoopPublisher) Publish(context.Context, string, uuid.UUID, any) {}

// NATSPublisher publishes events as JSON to core NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

var (
	_ Publisher = NoopPublisher{}
	_ Publisher = (*NATSPublisher)(nil)
)

// Connect dials NATS and returns a publisher using subjects "<prefix>.<subject>".
func Connect(url, prefix string, logger *zap.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("itsm-engine"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return NewNATSPublisher(conn, prefix, logger), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.Named("events"),
	}
}

// Publish sends the event and logs, rather than returns, any failure.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, entityID uuid.UUID, data any) {
	full, payload, err := encode(ctx, p.prefix, subject, entityID, data)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.String("subject", full), zap.Error(err))
		return
	}

	if err := p.conn.Publish(full, payload); err != nil {
		p.logger.Warn("Failed to publish event",
			zap.String("subject", full),
			zap.String("entity_id", entityID.String()),
			zap.Error(err))
	}
}

// encode builds the full subject and the JSON envelope.
func encode(ctx context.Context, prefix, subject string, entityID uuid.UUID, data any) (string, []byte, error) {
	full := subject
	if prefix != "" {
		full = prefix + "." + subject
	}
	payload, err := json.Marshal(Event{
		ID:         uuid.New(),
		Subject:    full,
		EntityID:   entityID,
		Actor:      models.ActorName(ctx),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	return full, payload, err
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}
}
