package trades

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketPosition 表示一笔已平仓交易的方向。
type MarketPosition string

const (
	PositionLong  MarketPosition = "long"
	PositionShort MarketPosition = "short"
)

// ParseMarketPosition 识别导出文件里的方向取值（大小写不敏感）。
func ParseMarketPosition(raw string) (MarketPosition, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "buy":
		return PositionLong, true
	case "short", "sell":
		return PositionShort, true
	default:
		return "", false
	}
}

// TradeRecord 是归一化后的单笔交易，构造后不再修改。
// 序列顺序 = 源文件行顺序。
type TradeRecord struct {
	EntryTime      time.Time       `json:"entry_time"`
	ExitTime       time.Time       `json:"exit_time"`
	Instrument     string          `json:"instrument"`
	MarketPosition MarketPosition  `json:"market_position"`
	Quantity       int             `json:"quantity"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	ExitPrice      decimal.Decimal `json:"exit_price,omitempty"`
	Profit         decimal.Decimal `json:"profit"`
	Strategy       string          `json:"strategy,omitempty"`
}

// HoldingDuration 返回持仓时长；出场早于入场时可能为负（导出文件偶见时钟偏移，原样保留）。
func (r TradeRecord) HoldingDuration() time.Duration {
	return r.ExitTime.Sub(r.EntryTime)
}

// Field 是语义字段名，与导出文件里的具体列头拼写无关。
type Field string

const (
	FieldEntryTime      Field = "entry_time"
	FieldExitTime       Field = "exit_time"
	FieldInstrument     Field = "instrument"
	FieldMarketPosition Field = "market_position"
	FieldQuantity       Field = "quantity"
	FieldEntryPrice     Field = "entry_price"
	FieldProfit         Field = "profit"

	// 可选字段：缺列不算错误。
	FieldExitPrice Field = "exit_price"
	FieldStrategy  Field = "strategy"
)

// RequiredFields 返回每个导出模板都必须能解析出的字段。
func RequiredFields() []Field {
	return []Field{
		FieldEntryTime,
		FieldExitTime,
		FieldInstrument,
		FieldMarketPosition,
		FieldQuantity,
		FieldEntryPrice,
		FieldProfit,
	}
}

// OptionalFields 返回允许缺失的字段。
func OptionalFields() []Field {
	return []Field{FieldExitPrice, FieldStrategy}
}
