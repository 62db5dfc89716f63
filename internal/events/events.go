// Package events publishes domain events as JSON envelopes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/numbershop/core/logger"
)

// Event types double as routing keys.
const (
	PurchaseConfirmed = "purchase.confirmed"
	PurchaseClaimed   = "purchase.claimed"
	DepositSubmitted  = "deposit.submitted"
	DepositApproved   = "deposit.approved"
	DepositRejected   = "deposit.rejected"
)

// Event is the envelope written to the broker.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New wraps payload in an envelope with a fresh id.
func New(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Emit builds and publishes an event. Failures are logged and swallowed:
// events never fail the operation that produced them.
func Emit(ctx context.Context, pub Publisher, eventType string, payload any) {
	if pub == nil {
		return
	}
	ev, err := New(eventType, payload)
	if err == nil {
		err = pub.Publish(ctx, ev)
	}
	if err != nil {
		logger.LogEvent(ctx, logger.SVCEvents, slog.LevelWarn, "event.publish",
			slog.String("type", eventType),
			slog.String("status", "fail"),
			logger.Err(err),
		)
	}
}

// LogPublisher writes events to the events component log. It stands in when
// no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(ctx context.Context, ev Event) error {
	logger.LogEvent(ctx, logger.SVCEvents, slog.LevelInfo, "event.publish",
		slog.String("type", ev.Type),
		slog.String("event_id", ev.ID.String()),
		slog.String("payload", logger.SanitizeLimit(string(ev.Payload), 256)),
		slog.String("sink", "log"),
	)
	return nil
}
