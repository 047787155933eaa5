package ingestion

import (
	"LendLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream   = "LEND_COMMANDS"
	CommandSubjects = "lend.commands.>"
	CommandConsumer = "ledger-commands"

	EventStream   = "LEND_EVENTS"
	EventSubjects = "lend.events.>"

	maxDeliver = 5
	ackWait    = 30 * time.Second
	streamAge  = 72 * time.Hour
)

// RawMessage is one undecoded command delivery. The dispatcher settles it
// with exactly one of Ack, Nak or Term.
type RawMessage struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	Ack       func()
	Nak       func()
	Term      func() // permanently reject; no redelivery
}

// NATSSubscriber consumes the command stream through a durable consumer and
// hands deliveries to the dispatcher channel.
type NATSSubscriber struct {
	js       jetstream.JetStream
	rawChan  chan<- RawMessage
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawMessage) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		log:     observability.NewLogger("nats"),
	}
}

// Subscribe creates the durable consumer with explicit ack and starts
// consuming. Deliveries that cannot be queued before ctx ends are nak'ed.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: CommandSubjects,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawMessage{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			Ack:       func() { _ = msg.Ack() },
			Nak:       func() { _ = msg.Nak() },
			Term:      func() { _ = msg.Term() },
		}

		select {
		case ns.rawChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}

	ns.consumer = cc
	ns.log.Info().Str("subject", CommandSubjects).Str("consumer", CommandConsumer).Msg("subscribed")
	return nil
}

// Stop stops the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.log.Info().Msg("NATS subscriber stopped")
}

// EnsureStreams creates the command and event streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	log := observability.NewLogger("nats")
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubjects},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    streamAge,
			Replicas:  1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{EventSubjects},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     streamAge,
			Replicas:   1,
			Duplicates: 2 * time.Minute,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")
	nc, err := nats.Connect(url,
		nats.Name("lendledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
