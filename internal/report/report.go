// Package report 把回测结果渲染成可离线查看的 HTML 报告：
// 净值曲线、回撤曲线、成交标记与指标摘要。
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"quantra/internal/backtest"
	"quantra/internal/indicator"
)

const (
	colorEquity   = "#5470c6"
	colorEquityMA = "#fac858"
	colorDrawdown = "#ee6666"
)

// Input 是渲染一份报告所需的全部数据。
type Input struct {
	Title    string
	RunID    string
	Result   backtest.Result
	MAPeriod int
}

// Render 生成报告并写入 w。
func Render(w io.Writer, input Input) error {
	if len(input.Result.EquityCurve) == 0 {
		return fmt.Errorf("净值曲线为空，无法生成报告")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	if input.Title != "" {
		page.PageTitle = input.Title
	}

	page.AddCharts(
		buildEquityChart(input),
		buildDrawdownChart(input.Result.EquityCurve),
		buildMetricsChart(input.Result),
	)
	return page.Render(w)
}

// RenderFile 渲染到文件。
func RenderFile(path string, input Input) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Render(f, input)
}

// buildEquityChart 净值曲线，叠加一条 EMA 平滑线。
func buildEquityChart(input Input) *charts.Line {
	curve := input.Result.EquityCurve
	xAxis := make([]string, len(curve))
	equity := make([]opts.LineData, len(curve))
	closes := make([]float64, len(curve))
	for i, p := range curve {
		xAxis[i] = formatTS(p.Timestamp)
		equity[i] = opts.LineData{Value: p.Equity}
		closes[i] = p.Equity
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: titleOf(input), Subtitle: "净值曲线"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("净值", equity,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))

	period := input.MAPeriod
	if period <= 0 {
		period = 20
	}
	if len(closes) > period {
		ema := indicator.EMA(closes, period)
		smooth := make([]opts.LineData, len(ema))
		for i, v := range ema {
			smooth[i] = opts.LineData{Value: v}
		}
		line.AddSeries(fmt.Sprintf("EMA%d", period), smooth,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquityMA, Width: 1}))
	}
	return line
}

// buildDrawdownChart 峰值回撤曲线。
func buildDrawdownChart(curve []backtest.EquityPoint) *charts.Line {
	xAxis := make([]string, len(curve))
	data := make([]opts.LineData, len(curve))
	peak := 0.0
	for i, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Equity) / peak * 100
		}
		xAxis[i] = formatTS(p.Timestamp)
		data[i] = opts.LineData{Value: -dd}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "回撤 (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("回撤", data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3)}))
	return line
}

// buildMetricsChart 绩效指标概览。
func buildMetricsChart(result backtest.Result) *charts.Bar {
	names := []string{"总收益率", "年化收益率", "最大回撤", "夏普", "索提诺", "卡玛", "胜率"}
	values := []float64{
		result.TotalReturn * 100,
		result.AnnualizedReturn * 100,
		result.MaxDrawdown * 100,
		result.SharpeRatio,
		result.SortinoRatio,
		result.CalmarRatio,
		result.WinRate * 100,
	}
	data := make([]opts.BarData, len(values))
	for i, v := range values {
		data[i] = opts.BarData{Value: v}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "绩效指标",
			Subtitle: fmt.Sprintf("成交 %d 笔，盈亏比 %.2f", result.TotalTrades, result.ProfitFactor),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names)
	bar.AddSeries("指标", data)
	return bar
}

func titleOf(input Input) string {
	if input.Title != "" {
		return input.Title
	}
	if input.RunID != "" {
		return "回测报告 " + input.RunID
	}
	return "回测报告"
}

func formatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04")
}
