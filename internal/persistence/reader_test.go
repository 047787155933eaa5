package persistence

import (
	"LendLedger/internal/event"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySource struct {
	rows  []EventRow
	calls int
}

func (s *memorySource) LoadEventsFrom(_ context.Context, from int64, limit int) ([]EventRow, error) {
	s.calls++
	var out []EventRow
	for _, r := range s.rows {
		if r.Sequence >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingReplayer struct {
	seqs   []int64
	failAt int64
}

func (r *recordingReplayer) Replay(env *event.EventEnvelope) error {
	if env.Sequence == r.failAt {
		return errors.New("chain broken")
	}
	r.seqs = append(r.seqs, env.Sequence)
	return nil
}

func storedRows(t *testing.T, n int) []EventRow {
	t.Helper()
	rows := make([]EventRow, 0, n)
	for seq := int64(1); seq <= int64(n); seq++ {
		row, err := RowFromOutput(depositOutput(seq))
		require.NoError(t, err)
		rows = append(rows, row)
	}
	return rows
}

func TestReplayEventLog_AppliesInOrder(t *testing.T) {
	src := &memorySource{rows: storedRows(t, 5)}
	rep := &recordingReplayer{}

	n, err := ReplayEventLog(context.Background(), src, rep)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, rep.seqs)
	assert.Equal(t, 2, src.calls)
}

func TestReplayEventLog_StopsAtRejection(t *testing.T) {
	src := &memorySource{rows: storedRows(t, 5)}
	rep := &recordingReplayer{failAt: 3}

	n, err := ReplayEventLog(context.Background(), src, rep)
	require.Error(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []int64{1, 2}, rep.seqs)
}

func TestReplayEventLog_EmptyLog(t *testing.T) {
	n, err := ReplayEventLog(context.Background(), &memorySource{}, &recordingReplayer{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
