package persistence

import (
	"LendLedger/internal/core"
	"LendLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// PersistenceWorker drains the persist channel and batch-writes to the
// event log. The engine sends on that channel with a blocking send, so if
// this worker falls behind the engine stalls and no event is lost.
type PersistenceWorker struct {
	writer       BatchWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewPersistenceWorker(
	writer BatchWriter,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		writer:         writer,
		inputChan:      inputChan,
		batchSize:      batchSize,
		flushTimeout:   flushTimeout,
		metrics:        metrics,
		log:            observability.NewLogger("persistence"),
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

func (pw *PersistenceWorker) SetLogger(log zerolog.Logger) {
	pw.log = log
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. It returns when ctx is cancelled or the input
// channel is closed, flushing whatever is buffered first.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Outputs already sent by the engine are committed state.
			batch = pw.drainBuffered(batch)
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flushWithRetry(ctx, batch); err != nil {
						pw.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = pw.appendOutput(batch, output)

			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

func (pw *PersistenceWorker) appendOutput(batch []EventRow, output core.CoreOutput) []EventRow {
	row, err := RowFromOutput(output)
	if err != nil {
		pw.log.Error().Err(err).Msg("dropping unencodable output")
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("encode").Inc()
		}
		return batch
	}
	return append(batch, row)
}

// drainBuffered moves everything already queued on the input channel into
// batch without blocking.
func (pw *PersistenceWorker) drainBuffered(batch []EventRow) []EventRow {
	for {
		select {
		case output, ok := <-pw.inputChan:
			if !ok {
				return batch
			}
			batch = pw.appendOutput(batch, output)
		default:
			return batch
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On shutdown it makes one last attempt with a background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []EventRow) error {
	backoff := pw.initialBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > pw.maxBackoff {
				backoff = pw.maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.log.Warn().Err(err).Int("events", len(batch)).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch []EventRow) error {
	start := time.Now()

	if err := pw.writer.WriteBatch(ctx, batch); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch)))
		pw.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}
	return nil
}
