package persistence

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memoryWriter records batches and can fail the first n writes.
type memoryWriter struct {
	mu       sync.Mutex
	batches  [][]EventRow
	failNext int
	attempts int
}

func (w *memoryWriter) WriteBatch(_ context.Context, rows []EventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failNext > 0 {
		w.failNext--
		return errors.New("connection refused")
	}
	w.batches = append(w.batches, append([]EventRow(nil), rows...))
	return nil
}

func (w *memoryWriter) sequences() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var seqs []int64
	for _, b := range w.batches {
		for _, r := range b {
			seqs = append(seqs, r.Sequence)
		}
	}
	return seqs
}

func (w *memoryWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func depositOutput(seq int64) core.CoreOutput {
	amount := uint256.NewInt(uint64(seq))
	return core.CoreOutput{Envelope: &event.EventEnvelope{
		Sequence:       seq,
		EventID:        uuid.New(),
		IdempotencyKey: "cmd-" + uuid.NewString(),
		EventType:      event.EventTypeDeposit,
		Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
		StateHash:      [32]byte{byte(seq)},
		Event: &event.Deposit{PositionChange: event.PositionChange{
			Account:    common.HexToAddress("0x01"),
			Amount:     amount,
			Collateral: amount,
			Debt:       new(uint256.Int),
			Price:      uint256.NewInt(2000),
		}},
	}}
}

func newTestWorker(w BatchWriter, in <-chan core.CoreOutput, batchSize int, flush time.Duration) *PersistenceWorker {
	pw := NewPersistenceWorker(w, in, batchSize, flush, observability.NewMetrics(prometheus.NewRegistry()))
	pw.initialBackoff = 5 * time.Millisecond
	pw.maxBackoff = 20 * time.Millisecond
	return pw
}

func TestWorker_FlushesFullBatches(t *testing.T) {
	in := make(chan core.CoreOutput, 8)
	w := &memoryWriter{}
	pw := newTestWorker(w, in, 2, time.Hour)

	for seq := int64(1); seq <= 4; seq++ {
		in <- depositOutput(seq)
	}
	close(in)

	require.NoError(t, pw.Run(context.Background()))
	assert.Equal(t, 2, w.batchCount())
	assert.Equal(t, []int64{1, 2, 3, 4}, w.sequences())
	assert.Equal(t, 4.0, promtest.ToFloat64(pw.metrics.PersistEventsWritten))
	assert.Equal(t, 4.0, promtest.ToFloat64(pw.metrics.PersistLastSequence))
}

func TestWorker_FlushesOnTimeout(t *testing.T) {
	in := make(chan core.CoreOutput, 8)
	w := &memoryWriter{}
	pw := newTestWorker(w, in, 100, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pw.Run(ctx) }()

	in <- depositOutput(1)
	require.Eventually(t, func() bool { return w.batchCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []int64{1}, w.sequences())
}

func TestWorker_RetriesUntilWriteSucceeds(t *testing.T) {
	in := make(chan core.CoreOutput, 8)
	w := &memoryWriter{failNext: 3}
	pw := newTestWorker(w, in, 1, time.Hour)

	in <- depositOutput(1)
	close(in)

	require.NoError(t, pw.Run(context.Background()))
	assert.Equal(t, []int64{1}, w.sequences())
	assert.Equal(t, 4, w.attempts)
	assert.Equal(t, 3.0, promtest.ToFloat64(pw.metrics.PersistRetry))
}

func TestWorker_FlushesBufferedOutputsOnShutdown(t *testing.T) {
	in := make(chan core.CoreOutput, 8)
	w := &memoryWriter{}
	pw := newTestWorker(w, in, 100, time.Hour)

	for seq := int64(1); seq <= 3; seq++ {
		in <- depositOutput(seq)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, pw.Run(ctx), context.Canceled)
	assert.Equal(t, []int64{1, 2, 3}, w.sequences())
}

func TestRowFromOutput(t *testing.T) {
	out := depositOutput(9)
	row, err := RowFromOutput(out)
	require.NoError(t, err)

	assert.Equal(t, int64(9), row.Sequence)
	assert.Equal(t, out.Envelope.EventID, row.EventID)
	assert.Equal(t, "Deposit", row.EventType)
	assert.Equal(t, out.Envelope.IdempotencyKey, row.IdempotencyKey)
	assert.Len(t, row.StateHash, 32)
	assert.Equal(t, byte(9), row.StateHash[0])
	assert.JSONEq(t,
		`{"account":"0x0000000000000000000000000000000000000001","amount":"9","collateral":"9","debt":"0","price":"2000"}`,
		string(row.Payload))

	env, err := row.Envelope()
	require.NoError(t, err)
	assert.Equal(t, out.Envelope.StateHash, env.StateHash)
	dep, ok := env.Event.(*event.Deposit)
	require.True(t, ok)
	assert.Equal(t, "9", dep.Collateral.Dec())

	_, err = RowFromOutput(core.CoreOutput{})
	assert.Error(t, err)
}

func TestBuildEventInsert(t *testing.T) {
	rows := []EventRow{
		{Sequence: 1, EventType: "Deposit", Payload: []byte(`{}`)},
		{Sequence: 2, EventType: "Borrow", IdempotencyKey: "cmd-2", Payload: []byte(`{}`)},
	}
	query, args := buildEventInsert(rows)

	assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7, $8), ($9, $10, $11, $12, $13, $14, $15, $16)")
	assert.Contains(t, query, "ON CONFLICT (sequence) DO NOTHING")
	require.Len(t, args, 16)
	assert.Equal(t, sql.NullString{}, args[3])
	assert.Equal(t, nullString("cmd-2"), args[11])
	assert.Equal(t, "{}", args[4])
}
