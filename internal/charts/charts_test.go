package charts

import (
	"testing"
	"time"

	"tapelens/internal/stats"

	"github.com/stretchr/testify/require"
)

func sampleSummary(points int) stats.Summary {
	s := stats.Summary{
		StartingCapital: 100000,
		Trades:          points,
		ProfitFactor:    1.6,
	}
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	for i := 0; i < points; i++ {
		ts := start.Add(time.Duration(i) * 24 * time.Hour)
		val := float64(i * 50)
		s.Equity = append(s.Equity, stats.Point{TS: ts, Value: val, ValuePct: val / 100000})
		s.Drawdown = append(s.Drawdown, stats.Point{TS: ts, Value: 0, ValuePct: 0})
	}
	return s
}

func TestBuildDashboardHTML(t *testing.T) {
	input := Input{
		Title:   "ES Breakout",
		Summary: sampleSummary(50),
		Monthly: []stats.MonthlyRow{{Year: 2024, Months: [12]stats.MonthlyCell{{Dollar: 500, Pct: 0.005}}}},
	}
	html, err := BuildDashboardHTML(input)
	require.NoError(t, err)
	require.Contains(t, string(html), "Equity Curve")
	require.Contains(t, string(html), "Drawdown")
	require.Contains(t, string(html), "Monthly Returns")
	require.Contains(t, string(html), "echarts")
}

func TestBuildDashboardHTMLNoEquity(t *testing.T) {
	_, err := BuildDashboardHTML(Input{Title: "empty"})
	require.Error(t, err)
}

func TestSmoothedSeriesNeedsEnoughPoints(t *testing.T) {
	require.Nil(t, smoothedSeries(make([]float64, smaWindow)))

	values := make([]float64, smaWindow*3)
	for i := range values {
		values[i] = float64(i)
	}
	smooth := smoothedSeries(values)
	require.Len(t, smooth, len(values))
	require.Nil(t, smooth[0].Value)
	require.NotNil(t, smooth[len(smooth)-1].Value)
}
