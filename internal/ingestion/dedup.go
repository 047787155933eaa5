package ingestion

import (
	"LendLedger/internal/observability"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// DurableChecker is the second dedup tier, backed by the event log.
type DurableChecker interface {
	IsDuplicate(commandID string) (bool, error)
}

// Deduplicator answers "was this command id already handled" from a bounded
// in-memory LRU first and the durable tier second. A failing durable lookup
// counts as not-a-duplicate.
type Deduplicator struct {
	recent  *lru.Cache
	durable DurableChecker // may be nil
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewDeduplicator(size int, durable DurableChecker, metrics *observability.Metrics) (*Deduplicator, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("dedup lru: %w", err)
	}
	return &Deduplicator{
		recent:  cache,
		durable: durable,
		metrics: metrics,
		log:     observability.NewLogger("dedup"),
	}, nil
}

// IsDuplicate reports whether commandID was seen, and by which tier.
func (d *Deduplicator) IsDuplicate(commandID string) (bool, string) {
	if d.recent.Contains(commandID) {
		d.countDuplicate("lru")
		return true, "lru"
	}
	if d.durable == nil {
		return false, ""
	}

	dup, err := d.durable.IsDuplicate(commandID)
	if err != nil {
		d.log.Warn().Err(err).Str("command_id", commandID).Msg("durable dedup lookup failed")
		if d.metrics != nil {
			d.metrics.DedupTier2Errors.Inc()
		}
		return false, ""
	}
	if dup {
		d.recent.Add(commandID, struct{}{})
		d.countDuplicate("postgres")
		return true, "postgres"
	}
	return false, ""
}

// MarkProcessed records commandID in the in-memory tier.
func (d *Deduplicator) MarkProcessed(commandID string) {
	d.recent.Add(commandID, struct{}{})
	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(d.recent.Len()))
	}
}

// Warm preloads ids, oldest last, so the newest survive eviction.
func (d *Deduplicator) Warm(ids []string) {
	for i := len(ids) - 1; i >= 0; i-- {
		d.recent.Add(ids[i], struct{}{})
	}
	if d.metrics != nil {
		d.metrics.DedupLRUSize.Set(float64(d.recent.Len()))
	}
}

func (d *Deduplicator) Len() int {
	return d.recent.Len()
}

func (d *Deduplicator) countDuplicate(tier string) {
	if d.metrics != nil {
		d.metrics.CommandDuplicates.WithLabelValues(tier).Inc()
	}
}
