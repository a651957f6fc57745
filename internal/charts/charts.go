package charts

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"tapelens/internal/stats"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	talib "github.com/markcheno/go-talib"
)

const (
	colorBackground    = "#0e0e1a"
	colorTextPrimary   = "#ffffff"
	colorTextSecondary = "#8a8aa3"
	colorProfit        = "#00c853"
	colorLoss          = "#ff5252"
	colorSmooth        = "#42a5f5"

	chartWidthPx     = 1280
	equityHeightPx   = 420
	drawdownHeightPx = 280
	monthlyHeightPx  = 320

	// smaWindow 是资金曲线平滑线的窗口（按成交笔数）。
	smaWindow = 20
)

// Input 是一个回测的图表输入。
type Input struct {
	Title   string
	Summary stats.Summary
	Monthly []stats.MonthlyRow
}

// BuildDashboardHTML 生成资金曲线、回撤与月度收益三张图的独立页面。
func BuildDashboardHTML(input Input) ([]byte, error) {
	if len(input.Summary.Equity) == 0 {
		return nil, fmt.Errorf("no equity points to chart for %s", input.Title)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = input.Title

	page.AddCharts(
		buildEquityChart(input),
		buildDrawdownChart(input.Summary),
	)
	if len(input.Monthly) > 0 {
		page.AddCharts(buildMonthlyHeatmap(input.Monthly))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildEquityChart(input Input) *charts.Line {
	s := input.Summary
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "Equity Curve",
			Subtitle:      fmt.Sprintf("%s | %d trades | PF %s", input.Title, s.Trades, profitFactorLabel(s)),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "Return (%)",
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary, Formatter: "{value}%"},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)

	xAxis := buildXAxis(s.Equity)
	data := make([]opts.LineData, len(s.Equity))
	values := make([]float64, len(s.Equity))
	for i, p := range s.Equity {
		pct := round(p.ValuePct*100, 2)
		values[i] = pct
		data[i] = opts.LineData{Value: pct}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Combined", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorProfit, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorProfit, Opacity: opts.Float(0.15)}),
	)
	if smooth := smoothedSeries(values); smooth != nil {
		line.AddSeries(fmt.Sprintf("SMA %d", smaWindow), smooth,
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorSmooth, Width: 1, Type: "dashed"}),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		)
	}
	return line
}

// smoothedSeries 用 SMA 平滑资金曲线；样本不足窗口时不画。
func smoothedSeries(values []float64) []opts.LineData {
	if len(values) < smaWindow*2 {
		return nil
	}
	sma := talib.Sma(values, smaWindow)
	data := make([]opts.LineData, len(sma))
	for i, v := range sma {
		if i < smaWindow-1 || math.IsNaN(v) {
			data[i] = opts.LineData{Value: nil}
			continue
		}
		data[i] = opts.LineData{Value: round(v, 2)}
	}
	return data
}

func buildDrawdownChart(s stats.Summary) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", drawdownHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Drawdown",
			Subtitle:   fmt.Sprintf("max %.1f%% ($%.0f)", s.MaxDrawdownPct*100, math.Abs(s.MaxDrawdown)),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{
				Color: colorTextSecondary,
			},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:      "Drawdown (%)",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary, Formatter: "{value}%"},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	data := make([]opts.LineData, len(s.Drawdown))
	for i, p := range s.Drawdown {
		data[i] = opts.LineData{Value: round(p.ValuePct*100, 2)}
	}
	line.SetXAxis(buildXAxis(s.Drawdown))
	line.AddSeries("Drawdown", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorLoss, Width: 1.5}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorLoss, Opacity: opts.Float(0.25)}),
	)
	return line
}

var monthLabels = []string{"JAN", "FEB", "MAR", "APR", "MAY", "JUN", "JUL", "AUG", "SEP", "OCT", "NOV", "DEC"}

func buildMonthlyHeatmap(rows []stats.MonthlyRow) *charts.HeatMap {
	hm := charts.NewHeatMap()

	years := make([]string, len(rows))
	var maxAbs float64
	data := make([]opts.HeatMapData, 0, len(rows)*12)
	for yi, row := range rows {
		years[yi] = fmt.Sprintf("%d", row.Year)
		for mi, cell := range row.Months {
			pct := round(cell.Pct*100, 2)
			if math.Abs(pct) > maxAbs {
				maxAbs = math.Abs(pct)
			}
			data = append(data, opts.HeatMapData{Value: [3]any{mi, yi, pct}})
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}

	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", monthlyHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      "Monthly Returns (% of capital)",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 16},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			Data:      monthLabels,
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Type:      "category",
			Data:      years,
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        float32(-maxAbs),
			Max:        float32(maxAbs),
			InRange:    &opts.VisualMapInRange{Color: []string{colorLoss, "#1a1a2e", colorProfit}},
		}),
	)
	hm.AddSeries("Monthly %", data)
	return hm
}

func buildXAxis(points []stats.Point) []string {
	x := make([]string, len(points))
	for i, p := range points {
		x[i] = p.TS.In(time.UTC).Format("2006-01-02 15:04")
	}
	return x
}

func profitFactorLabel(s stats.Summary) string {
	if s.ProfitFactorInf {
		return "∞"
	}
	return fmt.Sprintf("%.2f", s.ProfitFactor)
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
