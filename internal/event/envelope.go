package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeBorrow
	EventTypeRepay
	EventTypeLiquidate
	EventTypePriceUpdated
)

// EventEnvelope wraps every committed mutation
type EventEnvelope struct {
	// Global monotonic sequence assigned by core, starting at 1
	Sequence int64

	// Unique id of this envelope
	EventID uuid.UUID

	// Command id from upstream, empty for direct API calls
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Commit time from the engine clock
	Timestamp time.Time

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte

	Event Event
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// Accounts returns every account whose position the event touched
	Accounts() []common.Address
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeBorrow:
		return "Borrow"
	case EventTypeRepay:
		return "Repay"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, bool) {
	for et := EventTypeDeposit; et <= EventTypePriceUpdated; et++ {
		if et.String() == s {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// Payload returns the JSON encoding of the wrapped event.
func (e *EventEnvelope) Payload() ([]byte, error) {
	if e.Event == nil {
		return nil, fmt.Errorf("envelope %d has no event", e.Sequence)
	}
	return json.Marshal(e.Event)
}

// DecodePayload rebuilds a typed event from its stored JSON payload.
func DecodePayload(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeDeposit:
		evt = &Deposit{}
	case EventTypeWithdraw:
		evt = &Withdraw{}
	case EventTypeBorrow:
		evt = &Borrow{}
	case EventTypeRepay:
		evt = &Repay{}
	case EventTypeLiquidate:
		evt = &Liquidate{}
	case EventTypePriceUpdated:
		evt = &PriceUpdated{}
	default:
		return nil, fmt.Errorf("unknown event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", et, err)
	}
	return evt, nil
}
