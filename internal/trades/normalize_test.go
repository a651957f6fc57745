package trades

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAliases() AliasTable {
	return AliasTable{
		FieldEntryTime:      {"Entry time"},
		FieldExitTime:       {"Exit time"},
		FieldInstrument:     {"Instrument", "Symbol"},
		FieldMarketPosition: {"Market pos.", "Market pos", "Position"},
		FieldQuantity:       {"Qty", "Quantity"},
		FieldEntryPrice:     {"Entry price"},
		FieldProfit:         {"Profit", "P/L"},
		FieldStrategy:       {"Strategy"},
	}
}

const sampleHeader = "Entry time,Exit time,Instrument,Market pos.,Qty,Entry price,Profit"

func TestParseSingleRow(t *testing.T) {
	csvText := sampleHeader + "\n2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50\n"

	records, err := Parse(csvText, testAliases())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "ES", rec.Instrument)
	assert.Equal(t, PositionLong, rec.MarketPosition)
	assert.Equal(t, 1, rec.Quantity)
	assert.True(t, rec.EntryPrice.Equal(decimal.RequireFromString("4500.25")))
	assert.True(t, rec.Profit.Equal(decimal.RequireFromString("125.50")))
	assert.Equal(t, time.Date(2024, 1, 2, 9, 31, 0, 0, time.UTC), rec.EntryTime)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 45, 0, 0, time.UTC), rec.ExitTime)
}

func TestParsePreservesFileOrder(t *testing.T) {
	var b strings.Builder
	b.WriteString(sampleHeader + "\n")
	b.WriteString("2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50\n")
	b.WriteString("2024-01-01 10:00:00,2024-01-01 10:30:00,NQ,Short,2,16000.00,($80.00)\n")
	b.WriteString("2024-01-03 14:00:00,2024-01-03 14:05:00,ES,Long,1,4510.00,$32.00\n")

	records, err := Parse(b.String(), testAliases())
	require.NoError(t, err)
	require.Len(t, records, 3)
	// 文件顺序原样保留，不按时间重排
	assert.Equal(t, "ES", records[0].Instrument)
	assert.Equal(t, "NQ", records[1].Instrument)
	assert.True(t, records[1].Profit.Equal(decimal.RequireFromString("-80")))
	assert.True(t, records[2].Profit.Equal(decimal.RequireFromString("32")))
}

func TestParseHeaderVariants(t *testing.T) {
	// 大小写/空白差异必须解析到相同结果
	variants := []string{
		"Entry time,Exit time,Instrument,Market pos.,Qty,Entry price,Profit",
		"ENTRY TIME,EXIT TIME,INSTRUMENT,MARKET POS.,QTY,ENTRY PRICE,PROFIT",
		"entry time , exit time ,instrument, market pos. ,qty,entry price, profit ",
	}
	row := "2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50"
	var first []TradeRecord
	for _, header := range variants {
		records, err := Parse(header+"\n"+row+"\n", testAliases())
		require.NoError(t, err, "header %q", header)
		require.Len(t, records, 1)
		if first == nil {
			first = records
			continue
		}
		assert.Equal(t, first[0], records[0], "header %q", header)
	}
}

func TestParseAlternateAliases(t *testing.T) {
	csvText := "Entry time,Exit time,Symbol,Position,Quantity,Entry price,P/L\n" +
		"2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Short,3,4500.25,($90.00)\n"
	records, err := Parse(csvText, testAliases())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, PositionShort, records[0].MarketPosition)
	assert.Equal(t, 3, records[0].Quantity)
	assert.True(t, records[0].Profit.Equal(decimal.RequireFromString("-90")))
}

func TestParseMissingColumn(t *testing.T) {
	csvText := "Entry time,Exit time,Instrument,Market pos.,Entry price,Profit\n" +
		"2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,4500.25,125.50\n"
	_, err := Parse(csvText, testAliases())
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrMissingColumn, perr.Kind)
	assert.Equal(t, FieldQuantity, perr.Field)
}

func TestParseAmbiguousColumn(t *testing.T) {
	t.Run("field matches two columns", func(t *testing.T) {
		csvText := "Entry time,Exit time,Instrument,Market pos.,Qty,Entry price,Profit,P/L\n"
		_, err := Parse(csvText, testAliases())
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrAmbiguousColumn, perr.Kind)
		assert.Equal(t, FieldProfit, perr.Field)
	})

	t.Run("two fields claim one column", func(t *testing.T) {
		table := testAliases()
		table[FieldExitPrice] = append(table[FieldExitPrice], "entry price")
		csvText := sampleHeader + "\n"
		_, err := Parse(csvText, table)
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrAmbiguousColumn, perr.Kind)
	})

	t.Run("duplicate aliases for one field are a single match", func(t *testing.T) {
		table := testAliases()
		table[FieldProfit] = append(table[FieldProfit], "profit", " PROFIT ")
		records, err := Parse(sampleHeader+"\n2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50\n", table)
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}

func TestParseMalformedRow(t *testing.T) {
	t.Run("non-numeric profit", func(t *testing.T) {
		csvText := sampleHeader + "\n" +
			"2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50\n" +
			"2024-01-02 10:00:00,2024-01-02 10:15:00,ES,Long,1,4501.00,N/A\n"
		_, err := Parse(csvText, testAliases())
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrMalformedRow, perr.Kind)
		assert.Equal(t, FieldProfit, perr.Field)
		assert.Equal(t, 2, perr.Row)
		assert.Equal(t, "N/A", perr.RawValue)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		csvText := sampleHeader + "\nnot-a-time,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50\n"
		_, err := Parse(csvText, testAliases())
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrMalformedRow, perr.Kind)
		assert.Equal(t, FieldEntryTime, perr.Field)
		assert.Equal(t, 1, perr.Row)
	})

	t.Run("zero quantity", func(t *testing.T) {
		csvText := sampleHeader + "\n2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,0,4500.25,125.50\n"
		_, err := Parse(csvText, testAliases())
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrMalformedRow, perr.Kind)
		assert.Equal(t, FieldQuantity, perr.Field)
	})

	t.Run("unknown market position", func(t *testing.T) {
		csvText := sampleHeader + "\n2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Flat,1,4500.25,125.50\n"
		_, err := Parse(csvText, testAliases())
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, ErrMalformedRow, perr.Kind)
		assert.Equal(t, FieldMarketPosition, perr.Field)
	})
}

func TestParseExitBeforeEntryAccepted(t *testing.T) {
	// 出场时间早于入场的行原样保留（时钟偏移在真实导出中存在）
	csvText := sampleHeader + "\n2024-01-02 09:45:00,2024-01-02 09:31:00,ES,Long,1,4500.25,125.50\n"
	records, err := Parse(csvText, testAliases())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].ExitTime.Before(records[0].EntryTime))
	assert.Negative(t, records[0].HoldingDuration())
}

func TestParseHeaderOnly(t *testing.T) {
	records, err := Parse(sampleHeader+"\n", testAliases())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseTrailingComma(t *testing.T) {
	// NinjaTrader 导出常带行尾逗号，产生一个无名空列
	csvText := sampleHeader + ",\n2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50,\n"
	records, err := Parse(csvText, testAliases())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestParseIdempotent(t *testing.T) {
	csvText := sampleHeader + "\n" +
		"2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,$125.50\n" +
		"2024-01-02 10:00:00,2024-01-02 10:20:00,ES,Short,2,4503.00,($45.00)\n"
	first, err := Parse(csvText, testAliases())
	require.NoError(t, err)
	second, err := Parse(csvText, testAliases())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseStrategyColumn(t *testing.T) {
	csvText := "Strategy," + sampleHeader + "\nORB Breakout,2024-01-02 09:31:00,2024-01-02 09:45:00,ES,Long,1,4500.25,125.50\n"
	records, err := Parse(csvText, testAliases())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ORB Breakout", records[0].Strategy)
}

func TestParseWithOptionsLayouts(t *testing.T) {
	opts := Options{TimeLayouts: []string{"1/2/2006 3:04:05 PM"}}
	csvText := sampleHeader + "\n1/2/2024 9:31:00 AM,1/2/2024 9:45:00 AM,ES,Long,1,4500.25,125.50\n"
	records, err := ParseWithOptions(csvText, testAliases(), opts)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 31, 0, 0, time.UTC), records[0].EntryTime)
}
