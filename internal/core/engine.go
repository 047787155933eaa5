package core

import (
	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	fpmath "LendLedger/internal/math"
	"LendLedger/internal/observability"
	"LendLedger/internal/state"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// EngineConfig holds the fixed parameters of one ledger instance.
type EngineConfig struct {
	// Address that holds pooled base and quote tokens
	LedgerAddress common.Address

	InitialPrice *uint256.Int
	RiskParams   state.RiskParams

	// Clock stamps envelopes; defaults to time.Now
	Clock func() time.Time
}

// CoreOutput is one committed mutation as handed to downstream workers.
type CoreOutput struct {
	Envelope    *event.EventEnvelope
	StateDigest []byte
}

// Engine is the collateralised lending ledger. A single mutex serialises
// every mutation and every multi-field read. Mutations stage changes on
// working copies, run all gateway calls, and commit only on full success.
type Engine struct {
	mu sync.Mutex

	ledgerAddr common.Address
	base       ledger.Gateway // bound to ledgerAddr
	quote      ledger.Gateway // bound to ledgerAddr

	positions *state.PositionManager
	price     *state.PriceState
	risk      state.RiskParams
	hasher    *StateHasher
	sequence  int64
	clock     func() time.Time

	log     zerolog.Logger
	metrics *observability.Metrics

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// NewEngine builds an engine. base and quote must act on behalf of
// cfg.LedgerAddress. Either output channel and metrics may be nil.
func NewEngine(
	cfg EngineConfig,
	base, quote ledger.Gateway,
	persistChan, publishChan chan<- CoreOutput,
	metrics *observability.Metrics,
) (*Engine, error) {
	if cfg.LedgerAddress == (common.Address{}) {
		return nil, errors.New("ledger address must be set")
	}
	if base == nil || quote == nil {
		return nil, errors.New("base and quote gateways are required")
	}
	if cfg.InitialPrice == nil || cfg.InitialPrice.IsZero() {
		return nil, errors.New("initial price must be > 0")
	}
	if err := state.ValidateRiskParams(cfg.RiskParams); err != nil {
		return nil, fmt.Errorf("risk params: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	e := &Engine{
		ledgerAddr:  cfg.LedgerAddress,
		base:        base,
		quote:       quote,
		positions:   state.NewPositionManager(),
		price:       state.NewPriceState(cfg.InitialPrice),
		risk:        cfg.RiskParams,
		hasher:      NewStateHasher(),
		clock:       clock,
		log:         observability.NewLogger("core"),
		metrics:     metrics,
		persistChan: persistChan,
		publishChan: publishChan,
	}
	if metrics != nil {
		metrics.Price.Set(fpmath.ToDecimal(cfg.InitialPrice, fpmath.WadConfig).InexactFloat64())
	}
	return e, nil
}

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(log zerolog.Logger) {
	e.log = log
}

// LedgerAddress returns the address holding pooled tokens.
func (e *Engine) LedgerAddress() common.Address {
	return e.ledgerAddr
}

// RiskParams returns the fixed risk parameters.
func (e *Engine) RiskParams() state.RiskParams {
	return e.risk
}

// ============================================================================
// Mutations
// ============================================================================

// Deposit pulls amount of base asset from account and credits it as collateral.
func (e *Engine) Deposit(account common.Address, amount *uint256.Int) (*event.EventEnvelope, error) {
	return e.Execute(Command{Op: OpDeposit, Account: account, Amount: amount})
}

// Withdraw pays amount of collateral back to account.
func (e *Engine) Withdraw(account common.Address, amount *uint256.Int) (*event.EventEnvelope, error) {
	return e.Execute(Command{Op: OpWithdraw, Account: account, Amount: amount})
}

// Borrow pays amount of quote asset to account against its collateral.
func (e *Engine) Borrow(account common.Address, amount *uint256.Int) (*event.EventEnvelope, error) {
	return e.Execute(Command{Op: OpBorrow, Account: account, Amount: amount})
}

// Repay pulls amount of quote asset from account to reduce its debt.
func (e *Engine) Repay(account common.Address, amount *uint256.Int) (*event.EventEnvelope, error) {
	return e.Execute(Command{Op: OpRepay, Account: account, Amount: amount})
}

// Liquidate covers debtToCover of target's debt on behalf of liquidator
// and pays the liquidator the seized collateral.
func (e *Engine) Liquidate(liquidator, target common.Address, debtToCover *uint256.Int) (*event.EventEnvelope, error) {
	return e.Execute(Command{Op: OpLiquidate, Account: liquidator, Target: target, Amount: debtToCover})
}

// SetPrice replaces the process-wide price. Any caller may set it.
func (e *Engine) SetPrice(setter common.Address, price *uint256.Int) (*event.EventEnvelope, error) {
	return e.Execute(Command{Op: OpSetPrice, Account: setter, Amount: price})
}

// Execute applies one command atomically. On error nothing was committed
// and no event was emitted.
func (e *Engine) Execute(cmd Command) (*event.EventEnvelope, error) {
	if err := cmd.Validate(); err != nil {
		e.recordRejection(cmd, err)
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	var (
		evt     event.Event
		touched []*state.Position
		err     error
	)
	switch cmd.Op {
	case OpDeposit:
		evt, touched, err = e.deposit(cmd.Account, cmd.Amount)
	case OpWithdraw:
		evt, touched, err = e.withdraw(cmd.Account, cmd.Amount)
	case OpBorrow:
		evt, touched, err = e.borrow(cmd.Account, cmd.Amount)
	case OpRepay:
		evt, touched, err = e.repay(cmd.Account, cmd.Amount)
	case OpLiquidate:
		evt, touched, err = e.liquidate(cmd.Account, cmd.Target, cmd.Amount)
	case OpSetPrice:
		evt, err = e.setPrice(cmd.Account, cmd.Amount)
	}
	if err != nil {
		e.recordRejection(cmd, err)
		return nil, err
	}

	for _, pos := range touched {
		e.positions.Commit(pos)
	}
	envelope := e.seal(cmd.ID, evt, touched)

	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(string(cmd.Op)).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(string(cmd.Op)).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.Positions.Set(float64(e.positions.Len()))
	}
	return envelope, nil
}

func (e *Engine) deposit(account common.Address, amount *uint256.Int) (event.Event, []*state.Position, error) {
	if err := e.checkAccount(account); err != nil {
		return nil, nil, err
	}
	if amount.IsZero() {
		return nil, nil, fmt.Errorf("%w: deposit amount must be > 0", ErrInvalidInput)
	}

	pos := e.positions.GetPosition(account)
	collateral, err := fpmath.CheckedAdd(pos.Collateral, amount)
	if err != nil {
		return nil, nil, arithmeticErr("deposit", err)
	}
	pos.Collateral = collateral

	if err := e.base.TransferFrom(account, e.ledgerAddr, amount); err != nil {
		return nil, nil, transferErr("pull base from "+account.Hex(), err)
	}

	return &event.Deposit{PositionChange: e.change(pos, amount)}, []*state.Position{pos}, nil
}

func (e *Engine) withdraw(account common.Address, amount *uint256.Int) (event.Event, []*state.Position, error) {
	if err := e.checkAccount(account); err != nil {
		return nil, nil, err
	}
	if amount.IsZero() {
		return nil, nil, fmt.Errorf("%w: withdraw amount must be > 0", ErrInvalidInput)
	}

	pos := e.positions.GetPosition(account)
	collateral, ok := fpmath.CheckedSub(pos.Collateral, amount)
	if !ok {
		return nil, nil, fmt.Errorf("%w: withdraw %s exceeds collateral %s",
			ErrInvalidInput, amount.Dec(), pos.Collateral.Dec())
	}
	pos.Collateral = collateral

	if pos.HasDebt() {
		if err := e.requireHealthy(pos); err != nil {
			return nil, nil, err
		}
	}

	if err := e.base.Transfer(account, amount); err != nil {
		return nil, nil, transferErr("pay base to "+account.Hex(), err)
	}

	return &event.Withdraw{PositionChange: e.change(pos, amount)}, []*state.Position{pos}, nil
}

func (e *Engine) borrow(account common.Address, amount *uint256.Int) (event.Event, []*state.Position, error) {
	if err := e.checkAccount(account); err != nil {
		return nil, nil, err
	}
	if amount.IsZero() {
		return nil, nil, fmt.Errorf("%w: borrow amount must be > 0", ErrInvalidInput)
	}

	pos := e.positions.GetPosition(account)
	if pos.Collateral.IsZero() {
		return nil, nil, fmt.Errorf("%w: no collateral", ErrUndercollateralized)
	}
	debt, err := fpmath.CheckedAdd(pos.Debt, amount)
	if err != nil {
		return nil, nil, arithmeticErr("borrow", err)
	}
	pos.Debt = debt

	hf, err := e.risk.HealthFactor(pos, e.price.Price)
	if err != nil {
		return nil, nil, arithmeticErr("borrow health factor", err)
	}
	if hf.Lt(e.risk.HealthyFloor()) {
		return nil, nil, fmt.Errorf("%w: health factor would be %s", ErrUndercollateralized, hf.Dec())
	}

	if err := e.quote.Transfer(account, amount); err != nil {
		return nil, nil, transferErr("pay quote to "+account.Hex(), err)
	}

	return &event.Borrow{PositionChange: e.change(pos, amount), HealthFactor: hf}, []*state.Position{pos}, nil
}

func (e *Engine) repay(account common.Address, amount *uint256.Int) (event.Event, []*state.Position, error) {
	if err := e.checkAccount(account); err != nil {
		return nil, nil, err
	}
	if amount.IsZero() {
		return nil, nil, fmt.Errorf("%w: repay amount must be > 0", ErrInvalidInput)
	}

	pos := e.positions.GetPosition(account)
	debt, ok := fpmath.CheckedSub(pos.Debt, amount)
	if !ok {
		return nil, nil, fmt.Errorf("%w: repay %s exceeds debt %s",
			ErrInvalidInput, amount.Dec(), pos.Debt.Dec())
	}
	pos.Debt = debt

	if err := e.quote.TransferFrom(account, e.ledgerAddr, amount); err != nil {
		return nil, nil, transferErr("pull quote from "+account.Hex(), err)
	}

	return &event.Repay{PositionChange: e.change(pos, amount)}, []*state.Position{pos}, nil
}

func (e *Engine) liquidate(liquidator, target common.Address, debtToCover *uint256.Int) (event.Event, []*state.Position, error) {
	if err := e.checkAccount(liquidator); err != nil {
		return nil, nil, err
	}
	if err := e.checkAccount(target); err != nil {
		return nil, nil, err
	}

	plan, err := e.planLiquidation(target, debtToCover)
	if err != nil {
		return nil, nil, err
	}

	if held := e.base.BalanceOf(e.ledgerAddr); held.Lt(plan.Seize) {
		return nil, nil, transferErr("pay base to "+liquidator.Hex(),
			fmt.Errorf("%w: ledger holds %s, seize needs %s", ledger.ErrInsufficientBalance, held.Dec(), plan.Seize.Dec()))
	}
	if err := e.quote.TransferFrom(liquidator, e.ledgerAddr, debtToCover); err != nil {
		return nil, nil, transferErr("pull quote from "+liquidator.Hex(), err)
	}
	if err := e.base.Transfer(liquidator, plan.Seize); err != nil {
		e.compensate(OpLiquidate, func() error { return e.quote.Refund(liquidator, e.ledgerAddr, debtToCover) },
			liquidator, debtToCover)
		return nil, nil, transferErr("pay base to "+liquidator.Hex(), err)
	}

	evt := &event.Liquidate{
		LiquidationID:       uuid.New(),
		Liquidator:          liquidator,
		Target:              target,
		DebtCovered:         debtToCover.Clone(),
		CollateralSeized:    plan.Seize.Clone(),
		Price:               e.price.Current(),
		HealthFactor:        plan.HealthFactor.Clone(),
		RemainingCollateral: plan.After.Collateral.Clone(),
		RemainingDebt:       plan.After.Debt.Clone(),
	}

	e.log.Info().
		Str("liquidator", liquidator.Hex()).
		Str("target", target.Hex()).
		Str("debt_covered", debtToCover.Dec()).
		Str("collateral_seized", plan.Seize.Dec()).
		Str("health_factor", plan.HealthFactor.Dec()).
		Msg("position liquidated")

	if e.metrics != nil {
		e.metrics.Liquidations.Inc()
		e.metrics.CollateralSeized.Add(fpmath.ToDecimal(plan.Seize, fpmath.WadConfig).InexactFloat64())
		e.metrics.DebtCovered.Add(fpmath.ToDecimal(debtToCover, fpmath.WadConfig).InexactFloat64())
	}

	return evt, []*state.Position{plan.After}, nil
}

func (e *Engine) setPrice(setter common.Address, price *uint256.Int) (event.Event, error) {
	if price.IsZero() {
		return nil, fmt.Errorf("%w: price must be > 0", ErrInvalidInput)
	}

	old := e.price.Update(price, e.sequence+1, setter)

	e.log.Info().
		Str("setter", setter.Hex()).
		Str("old_price", old.Dec()).
		Str("new_price", price.Dec()).
		Msg("price updated")

	if e.metrics != nil {
		e.metrics.Price.Set(fpmath.ToDecimal(price, fpmath.WadConfig).InexactFloat64())
	}

	return &event.PriceUpdated{Setter: setter, OldPrice: old, NewPrice: price.Clone()}, nil
}

// compensate reverses an already executed transfer after a later one failed.
// A failed reversal cannot be undone further; it is logged and counted.
func (e *Engine) compensate(op Op, reverse func() error, account common.Address, amount *uint256.Int) {
	if err := reverse(); err != nil {
		e.log.Error().
			Err(err).
			Str("op", string(op)).
			Str("account", account.Hex()).
			Str("amount", amount.Dec()).
			Msg("compensating transfer failed")
		if e.metrics != nil {
			e.metrics.CompensationFailures.WithLabelValues(string(op)).Inc()
		}
	}
}

func (e *Engine) checkAccount(account common.Address) error {
	if account == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidInput)
	}
	if account == e.ledgerAddr {
		return fmt.Errorf("%w: ledger address cannot hold a position", ErrInvalidInput)
	}
	return nil
}

func (e *Engine) requireHealthy(pos *state.Position) error {
	hf, err := e.risk.HealthFactor(pos, e.price.Price)
	if err != nil {
		return arithmeticErr("health factor", err)
	}
	if hf.Lt(e.risk.HealthyFloor()) {
		return fmt.Errorf("%w: health factor would be %s", ErrUndercollateralized, hf.Dec())
	}
	return nil
}

// seal sequences a committed mutation, extends the hash chain and emits it.
func (e *Engine) seal(key string, evt event.Event, touched []*state.Position) *event.EventEnvelope {
	e.sequence++
	digest := stateDigest(touched, e.price.Price)
	prev := e.hasher.GetPrevHash()
	hash := e.hasher.ComputeHash(e.sequence, evt.EventType(), digest)

	envelope := &event.EventEnvelope{
		Sequence:       e.sequence,
		EventID:        uuid.New(),
		IdempotencyKey: key,
		EventType:      evt.EventType(),
		Timestamp:      e.clock().UTC(),
		StateHash:      hash,
		PrevHash:       prev,
		Event:          evt,
	}
	e.emit(CoreOutput{Envelope: envelope, StateDigest: digest})
	return envelope
}

// emit hands the output to the persist channel with a blocking send and to
// the publish channel with a non-blocking send that drops when full.
func (e *Engine) emit(output CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}

	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (e *Engine) recordRejection(cmd Command, err error) {
	kind := Kind(err)
	e.log.Debug().
		Err(err).
		Str("op", string(cmd.Op)).
		Str("account", cmd.Account.Hex()).
		Str("kind", kind).
		Str("command_id", cmd.ID).
		Msg("operation rejected")
	if e.metrics != nil {
		e.metrics.CoreOpsRejected.WithLabelValues(string(cmd.Op), kind).Inc()
	}
}

func (e *Engine) change(pos *state.Position, amount *uint256.Int) event.PositionChange {
	return event.PositionChange{
		Account:    pos.Account,
		Amount:     amount.Clone(),
		Collateral: pos.Collateral.Clone(),
		Debt:       pos.Debt.Clone(),
		Price:      e.price.Current(),
	}
}
