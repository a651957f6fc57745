package trades

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseCurrency 解析 NinjaTrader 风格的金额字符串。
// 支持 "$558.00"、"($119.00)"（括号记负）、"1,234.56"、"-12.5"。
func ParseCurrency(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty value")
	}
	negative := strings.Contains(s, "(")
	cleaner := strings.NewReplacer("$", "", "(", "", ")", "", ",", "", "€", "", "£", "")
	s = strings.TrimSpace(cleaner.Replace(s))
	if s == "" {
		return decimal.Zero, fmt.Errorf("no numeric content in %q", raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	if negative {
		d = d.Abs().Neg()
	}
	return d, nil
}
