package core

import (
	"LendLedger/internal/event"
	"LendLedger/internal/state"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ErrReplayMismatch is returned when a stored event does not extend the
// engine's hash chain.
var ErrReplayMismatch = errors.New("replay mismatch")

// Replay re-applies a stored event to the in-memory state without moving
// tokens or emitting output. The event must carry the next sequence, chain
// from the current tip and reproduce its recorded state hash; otherwise
// nothing changes. The price is taken from the log, so a replayed engine
// ends at the logged price whatever price it was configured with.
func (e *Engine) Replay(env *event.EventEnvelope) error {
	if env == nil || env.Event == nil {
		return fmt.Errorf("%w: empty envelope", ErrReplayMismatch)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence+1 {
		return fmt.Errorf("%w: sequence %d, expected %d", ErrReplayMismatch, env.Sequence, e.sequence+1)
	}
	if env.PrevHash != e.hasher.GetPrevHash() {
		return fmt.Errorf("%w: seq=%d prev hash does not match chain tip", ErrReplayMismatch, env.Sequence)
	}

	var (
		touched []*state.Position
		price   *uint256.Int
	)
	switch evt := env.Event.(type) {
	case *event.Deposit:
		pos, err := e.replayChange(env.Sequence, evt.PositionChange)
		if err != nil {
			return err
		}
		touched = append(touched, pos)
		price = evt.Price
	case *event.Withdraw:
		pos, err := e.replayChange(env.Sequence, evt.PositionChange)
		if err != nil {
			return err
		}
		touched = append(touched, pos)
		price = evt.Price
	case *event.Borrow:
		pos, err := e.replayChange(env.Sequence, evt.PositionChange)
		if err != nil {
			return err
		}
		touched = append(touched, pos)
		price = evt.Price
	case *event.Repay:
		pos, err := e.replayChange(env.Sequence, evt.PositionChange)
		if err != nil {
			return err
		}
		touched = append(touched, pos)
		price = evt.Price
	case *event.Liquidate:
		if evt.RemainingCollateral == nil || evt.RemainingDebt == nil || evt.Price == nil {
			return fmt.Errorf("%w: seq=%d incomplete liquidation", ErrReplayMismatch, env.Sequence)
		}
		pos := e.positions.GetPosition(evt.Target)
		pos.Collateral = evt.RemainingCollateral.Clone()
		pos.Debt = evt.RemainingDebt.Clone()
		touched = append(touched, pos)
		price = evt.Price
	case *event.PriceUpdated:
		if evt.NewPrice == nil || evt.NewPrice.IsZero() {
			return fmt.Errorf("%w: seq=%d zero price", ErrReplayMismatch, env.Sequence)
		}
		price = evt.NewPrice
	default:
		return fmt.Errorf("%w: seq=%d unsupported event %T", ErrReplayMismatch, env.Sequence, env.Event)
	}

	digest := stateDigest(touched, price)
	if hash := e.hasher.Peek(env.Sequence, env.EventType, digest); hash != env.StateHash {
		return fmt.Errorf("%w: seq=%d state hash %x, recorded %x", ErrReplayMismatch, env.Sequence, hash, env.StateHash)
	}

	for _, pos := range touched {
		e.positions.Commit(pos)
	}
	if pu, ok := env.Event.(*event.PriceUpdated); ok {
		e.price.Update(pu.NewPrice, env.Sequence, pu.Setter)
	} else if !price.Eq(e.price.Price) {
		e.price.Restore(price)
	}
	e.hasher.ComputeHash(env.Sequence, env.EventType, digest)
	e.sequence = env.Sequence
	return nil
}

func (e *Engine) replayChange(seq int64, c event.PositionChange) (*state.Position, error) {
	if c.Collateral == nil || c.Debt == nil || c.Price == nil || c.Price.IsZero() {
		return nil, fmt.Errorf("%w: seq=%d incomplete position change", ErrReplayMismatch, seq)
	}
	pos := e.positions.GetPosition(c.Account)
	pos.Collateral = c.Collateral.Clone()
	pos.Debt = c.Debt.Clone()
	return pos, nil
}
