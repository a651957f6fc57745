package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"tapelens/internal/stats"
	"tapelens/internal/trades"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords() []trades.TradeRecord {
	base := time.Date(2024, 1, 2, 9, 31, 0, 0, time.UTC)
	return []trades.TradeRecord{
		{
			EntryTime:      base,
			ExitTime:       base.Add(14 * time.Minute),
			Instrument:     "ES 03-24",
			MarketPosition: trades.PositionLong,
			Quantity:       1,
			EntryPrice:     decimal.RequireFromString("4500.25"),
			Profit:         decimal.RequireFromString("125.50"),
			Strategy:       "ORB",
		},
		{
			EntryTime:      base.Add(time.Hour),
			ExitTime:       base.Add(90 * time.Minute),
			Instrument:     "ES 03-24",
			MarketPosition: trades.PositionShort,
			Quantity:       2,
			EntryPrice:     decimal.RequireFromString("4503"),
			ExitPrice:      decimal.RequireFromString("4499.5"),
			Profit:         decimal.RequireFromString("-45"),
			Strategy:       "ORB",
		},
	}
}

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndGetBacktest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	records := testRecords()

	bt := Backtest{
		ID:             "bt-1",
		Name:           "orb-es",
		SourceFile:     "orb-es.csv",
		Template:       "ninjatrader-v1",
		Strategy:       "ORB",
		Instruments:    "ES 03-24",
		Checksum:       "abc123",
		InitialCapital: 100_000,
		FirstExit:      records[0].ExitTime,
		LastExit:       records[1].ExitTime,
		Stats:          stats.Compute(records, 100_000),
	}
	require.NoError(t, s.InsertBacktest(ctx, bt, records))

	got, err := s.GetBacktest(ctx, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, "orb-es", got.Name)
	assert.Equal(t, 2, got.Trades)
	assert.InDelta(t, 80.5, got.Stats.TotalPnL, 1e-9)
	assert.Equal(t, records[0].ExitTime, got.FirstExit)

	list, err := s.ListBacktests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bt-1", list[0].ID)
}

func TestListTradesRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	records := testRecords()
	bt := Backtest{ID: "bt-1", Name: "n", SourceFile: "f.csv", Template: "ninjatrader-v1", Checksum: "c1", InitialCapital: 1000}
	require.NoError(t, s.InsertBacktest(ctx, bt, records))

	got, err := s.ListTrades(ctx, "bt-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records[0].Instrument, got[0].Instrument)
	assert.True(t, got[0].Profit.Equal(records[0].Profit))
	assert.True(t, got[1].ExitPrice.Equal(records[1].ExitPrice))
	assert.Equal(t, trades.PositionShort, got[1].MarketPosition)

	page, err := s.ListTrades(ctx, "bt-1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 2, page[0].Quantity)
}

func TestFindByChecksum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bt := Backtest{ID: "bt-1", Name: "n", SourceFile: "f.csv", Template: "ninjatrader-v1", Checksum: "dupe", InitialCapital: 1000}
	require.NoError(t, s.InsertBacktest(ctx, bt, nil))

	_, found, err := s.FindByChecksum(ctx, "dupe")
	require.NoError(t, err)
	assert.True(t, found)

	_, found, err = s.FindByChecksum(ctx, "other")
	require.NoError(t, err)
	assert.False(t, found)

	// checksum 唯一索引拦截重复导入
	dupe := Backtest{ID: "bt-2", Name: "n2", SourceFile: "f2.csv", Template: "ninjatrader-v1", Checksum: "dupe", InitialCapital: 1000}
	assert.Error(t, s.InsertBacktest(ctx, dupe, nil))
}

func TestDeleteBacktestCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	bt := Backtest{ID: "bt-1", Name: "n", SourceFile: "f.csv", Template: "ninjatrader-v1", Checksum: "c1", InitialCapital: 1000}
	require.NoError(t, s.InsertBacktest(ctx, bt, testRecords()))

	require.NoError(t, s.DeleteBacktest(ctx, "bt-1"))
	_, err := s.GetBacktest(ctx, "bt-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	rows, err := s.ListTrades(ctx, "bt-1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.ErrorIs(t, s.DeleteBacktest(ctx, "bt-1"), sql.ErrNoRows)
}
