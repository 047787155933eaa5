package ingestion

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"context"

	"github.com/rs/zerolog"
)

// Executor applies a command to the ledger.
type Executor interface {
	Execute(cmd core.Command) (*event.EventEnvelope, error)
}

// Outcome of handling one delivery; also the commands_received label.
const (
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
)

// Dispatcher parses, deduplicates and applies command deliveries one at a
// time. Every delivery is acknowledged once handled: a ledger rejection is
// final and redelivering it cannot change the outcome.
type Dispatcher struct {
	exec    Executor
	dedup   *Deduplicator
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewDispatcher(exec Executor, dedup *Deduplicator, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		exec:    exec,
		dedup:   dedup,
		metrics: metrics,
		log:     observability.NewLogger("dispatcher"),
	}
}

// Run handles deliveries until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(msg)
		}
	}
}

// Handle processes and settles a single delivery.
func (d *Dispatcher) Handle(msg RawMessage) string {
	cmd, err := ParseCommand(msg.Subject, msg.Data)
	if err != nil {
		d.log.Warn().Err(err).Str("subject", msg.Subject).Msg("unparseable command")
		settle(msg.Term)
		d.count("unknown", OutcomeInvalid)
		return OutcomeInvalid
	}

	if d.dedup != nil {
		if dup, tier := d.dedup.IsDuplicate(cmd.ID); dup {
			d.log.Debug().Str("command_id", cmd.ID).Str("tier", tier).Msg("duplicate command")
			settle(msg.Ack)
			d.count(string(cmd.Op), OutcomeDuplicate)
			return OutcomeDuplicate
		}
	}

	outcome := OutcomeApplied
	env, err := d.exec.Execute(cmd)
	if err != nil {
		outcome = OutcomeRejected
		d.log.Info().
			Err(err).
			Str("command_id", cmd.ID).
			Str("op", string(cmd.Op)).
			Str("kind", core.Kind(err)).
			Msg("command rejected")
	} else {
		d.log.Debug().Str("command_id", cmd.ID).Int64("sequence", env.Sequence).Msg("command applied")
	}

	if d.dedup != nil {
		d.dedup.MarkProcessed(cmd.ID)
	}
	settle(msg.Ack)
	d.count(string(cmd.Op), outcome)
	return outcome
}

func (d *Dispatcher) count(op, outcome string) {
	if d.metrics != nil {
		d.metrics.CommandsReceived.WithLabelValues(op, outcome).Inc()
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
