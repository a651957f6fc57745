package trades

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeLayouts 覆盖常见 NinjaTrader 导出模板的时间格式，按序尝试。
var DefaultTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 3:04 PM",
	"2006-01-02 15:04",
}

// Options 控制时间解析行为；别名表之外的模板差异都走这里。
type Options struct {
	TimeLayouts []string
	Location    *time.Location
}

func (o Options) withDefaults() Options {
	if len(o.TimeLayouts) == 0 {
		o.TimeLayouts = DefaultTimeLayouts
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Parse 把原始 CSV 文本归一化为交易记录序列。
// 纯函数：同样输入必得同样输出；任何一行转换失败都使整次解析失败，
// 不产出部分结果。首行必须是列头；只有列头没有数据行返回空序列。
func Parse(csvText string, table AliasTable) ([]TradeRecord, error) {
	return ParseWithOptions(csvText, table, Options{})
}

// ParseWithOptions 同 Parse，允许指定时间格式与时区。
func ParseWithOptions(csvText string, table AliasTable, opts Options) ([]TradeRecord, error) {
	opts = opts.withDefaults()

	reader := csv.NewReader(strings.NewReader(csvText))
	reader.FieldsPerRecord = -1 // NinjaTrader 行尾逗号会造成列数不齐
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, missingColumn(FieldEntryTime)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header row: %w", err)
	}
	cols, perr := resolveColumns(headers, table)
	if perr != nil {
		return nil, perr
	}

	var records []TradeRecord
	rowIdx := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", rowIdx+1, err)
		}
		rowIdx++
		if isBlankRow(row) {
			continue
		}
		rec, perr := buildRecord(rowIdx, row, cols, opts)
		if perr != nil {
			return nil, perr
		}
		records = append(records, rec)
	}
	if records == nil {
		records = []TradeRecord{}
	}
	return records, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func buildRecord(rowIdx int, row []string, cols columnMap, opts Options) (TradeRecord, *ParseError) {
	cell := func(field Field) (string, bool) {
		idx, ok := cols[field]
		if !ok || idx >= len(row) {
			return "", ok
		}
		return strings.TrimSpace(row[idx]), true
	}
	require := func(field Field) (string, *ParseError) {
		raw, ok := cell(field)
		if !ok || (raw == "" && field != FieldInstrument) {
			return "", malformedRow(rowIdx, field, raw, "value missing")
		}
		return raw, nil
	}

	var rec TradeRecord

	rawEntry, perr := require(FieldEntryTime)
	if perr != nil {
		return rec, perr
	}
	entryTime, err := parseTime(rawEntry, opts)
	if err != nil {
		return rec, malformedRow(rowIdx, FieldEntryTime, rawEntry, err.Error())
	}
	rec.EntryTime = entryTime

	rawExit, perr := require(FieldExitTime)
	if perr != nil {
		return rec, perr
	}
	exitTime, err := parseTime(rawExit, opts)
	if err != nil {
		return rec, malformedRow(rowIdx, FieldExitTime, rawExit, err.Error())
	}
	// 出场早于入场按原样保留：真实导出里会出现时钟偏移行，丢弃会让统计失真。
	rec.ExitTime = exitTime

	instrument, _ := cell(FieldInstrument)
	rec.Instrument = instrument

	rawPos, perr := require(FieldMarketPosition)
	if perr != nil {
		return rec, perr
	}
	pos, ok := ParseMarketPosition(rawPos)
	if !ok {
		return rec, malformedRow(rowIdx, FieldMarketPosition, rawPos, "expected long or short")
	}
	rec.MarketPosition = pos

	rawQty, perr := require(FieldQuantity)
	if perr != nil {
		return rec, perr
	}
	qty, err := strconv.Atoi(strings.ReplaceAll(rawQty, ",", ""))
	if err != nil {
		return rec, malformedRow(rowIdx, FieldQuantity, rawQty, "expected integer")
	}
	if qty <= 0 {
		return rec, malformedRow(rowIdx, FieldQuantity, rawQty, "quantity must be positive")
	}
	rec.Quantity = qty

	rawPrice, perr := require(FieldEntryPrice)
	if perr != nil {
		return rec, perr
	}
	price, err := ParseCurrency(rawPrice)
	if err != nil {
		return rec, malformedRow(rowIdx, FieldEntryPrice, rawPrice, err.Error())
	}
	rec.EntryPrice = price

	rawProfit, perr := require(FieldProfit)
	if perr != nil {
		return rec, perr
	}
	profit, err := ParseCurrency(rawProfit)
	if err != nil {
		return rec, malformedRow(rowIdx, FieldProfit, rawProfit, err.Error())
	}
	rec.Profit = profit

	if raw, ok := cell(FieldExitPrice); ok && raw != "" {
		exitPrice, err := ParseCurrency(raw)
		if err != nil {
			return rec, malformedRow(rowIdx, FieldExitPrice, raw, err.Error())
		}
		rec.ExitPrice = exitPrice
	}
	if raw, ok := cell(FieldStrategy); ok {
		rec.Strategy = raw
	}
	return rec, nil
}

func parseTime(raw string, opts Options) (time.Time, error) {
	for _, layout := range opts.TimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, opts.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp")
}
