package importlog

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"tapelens/internal/trades"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "imports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	statsJSON, err := json.Marshal(map[string]any{"total_pnl": 125.5, "trades": 3})
	require.NoError(t, err)
	require.NoError(t, s.RecordSuccess(ctx, "bt-1", "orb-es.csv", "ninjatrader-v1", statsJSON))

	parseErr := &trades.ParseError{Kind: trades.ErrMissingColumn, Field: trades.FieldQuantity}
	require.NoError(t, s.RecordFailure(ctx, "broken.csv", "ninjatrader-v1", parseErr))

	entries, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// 倒序：最后写入的在前
	failed := entries[0]
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, string(trades.ErrMissingColumn), failed.ErrorKind)
	assert.Contains(t, failed.ErrorDetail, "quantity")

	ok := entries[1]
	assert.Equal(t, StatusOK, ok.Status)
	assert.Equal(t, "bt-1", ok.BacktestID)
	assert.InDelta(t, 125.5, ok.TotalPnL, 1e-9)
	assert.Equal(t, 3, ok.Trades)
}

func TestListLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for range 5 {
		require.NoError(t, s.RecordFailure(ctx, "f.csv", "t", assert.AnError))
	}
	entries, err := s.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
