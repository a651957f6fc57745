package stats

import (
	"math"
	"sort"
	"time"

	"tapelens/internal/trades"

	"github.com/shopspring/decimal"
)

// Point 是资金/回撤曲线上的一个点，横轴取平仓时间。
type Point struct {
	TS       time.Time `json:"ts"`
	Value    float64   `json:"value"`
	ValuePct float64   `json:"value_pct"`
}

// Summary 汇总一组交易的绩效指标，字段口径与前端展示一致。
// 金额为账户货币，比例字段为 0~1 小数（前端自行转百分比）。
type Summary struct {
	StartingCapital  float64 `json:"starting_capital"`
	TotalPnL         float64 `json:"total_pnl"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	CAGR             float64 `json:"cagr"`
	MaxDrawdown      float64 `json:"max_drawdown"`     // 负数，单位 $
	MaxDrawdownPct   float64 `json:"max_drawdown_pct"` // 负数，0~-1
	Trades           int     `json:"trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`
	GrossProfit      float64 `json:"gross_profit"`
	GrossLoss        float64 `json:"gross_loss"`
	ProfitFactor     float64 `json:"profit_factor"`
	ProfitFactorInf  bool    `json:"profit_factor_inf"` // 无亏损交易时为 true，ProfitFactor 置 0
	WinMonthsPct     float64 `json:"win_months_pct"`
	MonthsProfitable int     `json:"months_profitable"`
	TotalMonths      int     `json:"total_months"`
	// SuggestedCapital = 初始资金 + 2 倍最大回撤，原版仪表盘的保守建议值。
	SuggestedCapital float64 `json:"suggested_capital"`

	FirstExit time.Time `json:"first_exit,omitzero"`
	LastExit  time.Time `json:"last_exit,omitzero"`

	Equity   []Point `json:"equity,omitempty"`   // 累计盈亏曲线
	Drawdown []Point `json:"drawdown,omitempty"` // 距离前高的回撤曲线
}

// SortByExit 返回按平仓时间升序的拷贝，统计一律以平仓时间为轴。
func SortByExit(records []trades.TradeRecord) []trades.TradeRecord {
	sorted := append([]trades.TradeRecord(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ExitTime.Before(sorted[j].ExitTime)
	})
	return sorted
}

// FilterFrom 丢弃平仓时间早于 start 的记录；start 为零值时原样返回。
func FilterFrom(records []trades.TradeRecord, start time.Time) []trades.TradeRecord {
	if start.IsZero() {
		return records
	}
	out := make([]trades.TradeRecord, 0, len(records))
	for _, r := range records {
		if !r.ExitTime.Before(start) {
			out = append(out, r)
		}
	}
	return out
}

// Compute 从交易序列计算绩效汇总。盈亏累计用 decimal 避免逐笔浮点误差。
func Compute(records []trades.TradeRecord, startingCapital float64) Summary {
	s := Summary{StartingCapital: startingCapital}
	if len(records) == 0 {
		return s
	}
	sorted := SortByExit(records)
	s.Trades = len(sorted)
	s.FirstExit = sorted[0].ExitTime
	s.LastExit = sorted[len(sorted)-1].ExitTime

	capital := decimal.NewFromFloat(startingCapital)
	cum := decimal.Zero
	peak := decimal.Zero
	gross := decimal.Zero
	grossLoss := decimal.Zero
	maxDD := decimal.Zero
	maxDDPct := 0.0

	s.Equity = make([]Point, 0, len(sorted))
	s.Drawdown = make([]Point, 0, len(sorted))

	for _, rec := range sorted {
		cum = cum.Add(rec.Profit)
		switch rec.Profit.Sign() {
		case 1:
			s.Wins++
			gross = gross.Add(rec.Profit)
		case -1:
			s.Losses++
			grossLoss = grossLoss.Add(rec.Profit.Abs())
		}
		if cum.GreaterThan(peak) {
			peak = cum
		}
		dd := cum.Sub(peak)
		if dd.LessThan(maxDD) {
			maxDD = dd
		}

		cumF, _ := cum.Float64()
		ddF, _ := dd.Float64()
		equityPct, ddPct := 0.0, 0.0
		if startingCapital > 0 {
			equityPct = cumF / startingCapital
			peakEquity, _ := capital.Add(peak).Float64()
			if peakEquity > 0 {
				ddPct = ddF / peakEquity
			}
			if ddPct < maxDDPct {
				maxDDPct = ddPct
			}
		}
		s.Equity = append(s.Equity, Point{TS: rec.ExitTime, Value: cumF, ValuePct: equityPct})
		s.Drawdown = append(s.Drawdown, Point{TS: rec.ExitTime, Value: ddF, ValuePct: ddPct})
	}

	s.TotalPnL, _ = cum.Float64()
	s.GrossProfit, _ = gross.Float64()
	s.GrossLoss, _ = grossLoss.Float64()
	s.MaxDrawdown, _ = maxDD.Float64()
	s.MaxDrawdownPct = maxDDPct
	s.WinRate = float64(s.Wins) / float64(s.Trades)
	if grossLoss.IsZero() {
		s.ProfitFactorInf = gross.Sign() > 0
	} else {
		pf, _ := gross.Div(grossLoss).Float64()
		s.ProfitFactor = pf
	}
	if startingCapital > 0 {
		s.TotalReturnPct = s.TotalPnL / startingCapital
		s.CAGR = cagr(startingCapital, s.TotalPnL, s.FirstExit, s.LastExit)
		s.SuggestedCapital = startingCapital + 2*math.Abs(s.MaxDrawdown)
	}

	s.MonthsProfitable, s.TotalMonths = profitableMonths(sorted)
	if s.TotalMonths > 0 {
		s.WinMonthsPct = float64(s.MonthsProfitable) / float64(s.TotalMonths)
	}
	return s
}

// cagr 按平仓时间跨度年化；不足一天按一天算，避免除零与爆表。
func cagr(capital, totalPnL float64, first, last time.Time) float64 {
	years := last.Sub(first).Hours() / 24 / 365.25
	minYears := 1.0 / 365.25
	if years < minYears {
		years = minYears
	}
	final := capital + totalPnL
	if final <= 0 {
		return -1
	}
	return math.Pow(final/capital, 1/years) - 1
}

// profitableMonths 统计样本区间内盈利月数与总月数，中间无交易的月份计入总数。
func profitableMonths(sorted []trades.TradeRecord) (wins, total int) {
	if len(sorted) == 0 {
		return 0, 0
	}
	sums := make(map[int]decimal.Decimal)
	for _, rec := range sorted {
		key := rec.ExitTime.Year()*12 + int(rec.ExitTime.Month()) - 1
		sums[key] = sums[key].Add(rec.Profit)
	}
	first := sorted[0].ExitTime
	last := sorted[len(sorted)-1].ExitTime
	start := first.Year()*12 + int(first.Month()) - 1
	end := last.Year()*12 + int(last.Month()) - 1
	for key := start; key <= end; key++ {
		total++
		if sums[key].Sign() > 0 {
			wins++
		}
	}
	return wins, total
}
