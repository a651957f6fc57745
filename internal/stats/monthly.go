package stats

import (
	"sort"

	"tapelens/internal/trades"

	"github.com/shopspring/decimal"
)

// MonthlyCell 是月度收益表的一格：美元值 + 占初始资金比例。
type MonthlyCell struct {
	Dollar float64 `json:"dollar"`
	Pct    float64 `json:"pct"`
}

// MonthlyRow 是一年的月度收益，Months[0]=1 月，YTD 为全年合计。
type MonthlyRow struct {
	Year   int             `json:"year"`
	Months [12]MonthlyCell `json:"months"`
	YTD    MonthlyCell     `json:"ytd"`
}

// MonthlyReturns 生成按年分组的月度收益透视表（年份升序），
// 比例以初始资金为基数，与原版仪表盘一致。
func MonthlyReturns(records []trades.TradeRecord, startingCapital float64) []MonthlyRow {
	if len(records) == 0 {
		return nil
	}
	type ym struct{ year, month int }
	sums := make(map[ym]decimal.Decimal)
	years := make(map[int]bool)
	for _, rec := range records {
		key := ym{rec.ExitTime.Year(), int(rec.ExitTime.Month())}
		sums[key] = sums[key].Add(rec.Profit)
		years[key.year] = true
	}

	sortedYears := make([]int, 0, len(years))
	for y := range years {
		sortedYears = append(sortedYears, y)
	}
	sort.Ints(sortedYears)

	rows := make([]MonthlyRow, 0, len(sortedYears))
	for _, year := range sortedYears {
		row := MonthlyRow{Year: year}
		ytd := decimal.Zero
		for m := 1; m <= 12; m++ {
			sum := sums[ym{year, m}]
			ytd = ytd.Add(sum)
			row.Months[m-1] = toCell(sum, startingCapital)
		}
		row.YTD = toCell(ytd, startingCapital)
		rows = append(rows, row)
	}
	return rows
}

func toCell(sum decimal.Decimal, capital float64) MonthlyCell {
	dollar, _ := sum.Float64()
	cell := MonthlyCell{Dollar: dollar}
	if capital > 0 {
		cell.Pct = dollar / capital
	}
	return cell
}
