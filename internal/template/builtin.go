package template

import "tapelens/internal/trades"

// builtinDefinitions 返回随二进制内置的模板，配置文件可覆盖。
func builtinDefinitions() map[string]Definition {
	defs := map[string]Definition{
		"ninjatrader-v1": {
			ID:          "ninjatrader-v1",
			Description: "NinjaTrader 8 strategy analyzer export",
			Default:     true,
			Aliases: map[string][]string{
				string(trades.FieldEntryTime):      {"Entry time"},
				string(trades.FieldExitTime):       {"Exit time"},
				string(trades.FieldInstrument):     {"Instrument"},
				string(trades.FieldMarketPosition): {"Market pos.", "Market pos"},
				string(trades.FieldQuantity):       {"Qty"},
				string(trades.FieldEntryPrice):     {"Entry price"},
				string(trades.FieldProfit):         {"Profit"},
				string(trades.FieldExitPrice):      {"Exit price"},
				string(trades.FieldStrategy):       {"Strategy"},
			},
		},
		"generic-v1": {
			ID:          "generic-v1",
			Description: "Generic trade log with common header spellings",
			Aliases: map[string][]string{
				string(trades.FieldEntryTime):      {"Entry time", "Entry Time", "Open time", "Entry"},
				string(trades.FieldExitTime):       {"Exit time", "Exit Time", "Close time", "Exit"},
				string(trades.FieldInstrument):     {"Instrument", "Symbol", "Ticker", "Market"},
				string(trades.FieldMarketPosition): {"Market pos.", "Market pos", "Position", "Side", "Direction"},
				string(trades.FieldQuantity):       {"Qty", "Quantity", "Size", "Contracts"},
				string(trades.FieldEntryPrice):     {"Entry price", "Entry Price", "Avg entry price", "Open price"},
				string(trades.FieldProfit):         {"Profit", "P/L", "PnL", "Net profit", "Net P/L"},
				string(trades.FieldExitPrice):      {"Exit price", "Close price"},
				string(trades.FieldStrategy):       {"Strategy", "Strategy name"},
			},
		},
	}
	for id, def := range defs {
		norm, err := normalizeDefinition(id, def)
		if err != nil {
			// 内置模板写错属于编程错误，直接 panic 暴露
			panic("builtin template " + id + ": " + err.Error())
		}
		defs[id] = norm
	}
	return defs
}
