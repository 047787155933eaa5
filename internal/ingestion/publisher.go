package ingestion

import (
	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the subset of jetstream.JetStream used for outbound events.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// PublishedEvent is the outbound message body.
type PublishedEvent struct {
	Sequence       int64           `json:"sequence"`
	EventID        uuid.UUID       `json:"event_id"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// OutboundPublisher publishes committed events on lend.events.<EventType>.
// Failures are logged and skipped; the event log stays authoritative.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewOutboundPublisher(js Publisher, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       observability.NewLogger("publisher"),
	}
}

// Run publishes until ctx is cancelled or the input closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, output); err != nil {
				op.log.Warn().Err(err).Msg("outbound publish failed")
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, output core.CoreOutput) error {
	msg, err := NewPublishedEvent(output)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event seq=%d: %w", msg.Sequence, err)
	}

	// The event id doubles as the JetStream message id so retried
	// publishes are deduplicated by the stream.
	if _, err := op.js.Publish(ctx, EventSubject(msg.EventType), data, jetstream.WithMsgID(msg.EventID.String())); err != nil {
		return fmt.Errorf("publish seq=%d: %w", msg.Sequence, err)
	}
	if op.metrics != nil {
		op.metrics.EventsPublished.WithLabelValues(msg.EventType).Inc()
	}
	return nil
}

// EventSubject returns the outbound subject of an event type.
func EventSubject(eventType string) string {
	return "lend.events." + eventType
}

// NewPublishedEvent renders a core output as its outbound message.
func NewPublishedEvent(output core.CoreOutput) (PublishedEvent, error) {
	env := output.Envelope
	if env == nil {
		return PublishedEvent{}, fmt.Errorf("core output without envelope")
	}
	payload, err := env.Payload()
	if err != nil {
		return PublishedEvent{}, fmt.Errorf("encode seq=%d: %w", env.Sequence, err)
	}
	return PublishedEvent{
		Sequence:       env.Sequence,
		EventID:        env.EventID,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
		Payload:        payload,
	}, nil
}
