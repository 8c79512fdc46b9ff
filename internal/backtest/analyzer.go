package backtest

import "math"

const (
	// 加密货币全年交易，按 365 天年化。
	tradingDaysPerYear = 365
	riskFreeRate       = 0.02
)

// Analyze 根据净值曲线和成交记录计算绩效指标。
// 空净值曲线返回零值结果。
func Analyze(initialCapital float64, curve []EquityPoint, trades []*Trade) Result {
	result := Result{
		EquityCurve: curve,
		TotalTrades: len(trades),
	}
	for _, t := range trades {
		result.Trades = append(result.Trades, *t)
	}
	if len(curve) == 0 {
		return result
	}

	equities := make([]float64, len(curve))
	for i, p := range curve {
		equities[i] = p.Equity
	}

	result.TotalReturn = totalReturn(initialCapital, equities[len(equities)-1])
	result.AnnualizedReturn = annualizedReturn(result.TotalReturn, len(curve))
	result.MaxDrawdown = maxDrawdown(equities)
	result.SharpeRatio = sharpeRatio(equities)
	result.SortinoRatio = sortinoRatio(equities)
	// 零回撤没有风险样本，Calmar 记 0 而不是无穷
	if result.MaxDrawdown > 0 {
		result.CalmarRatio = result.AnnualizedReturn / result.MaxDrawdown
	}
	result.WinRate, result.ProfitFactor = tradeStats(trades)
	return result
}

func totalReturn(initial, final float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (final - initial) / initial
}

// annualizedReturn = (1 + 总收益)^(365/天数) - 1
func annualizedReturn(total float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	return math.Pow(1+total, tradingDaysPerYear/float64(days)) - 1
}

// maxDrawdown = max((峰值 - 谷值) / 峰值)
func maxDrawdown(equities []float64) float64 {
	if len(equities) == 0 {
		return 0
	}
	maxDD := 0.0
	peak := equities[0]
	for _, equity := range equities {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func periodReturns(equities []float64) []float64 {
	var returns []float64
	for i := 1; i < len(equities); i++ {
		if equities[i-1] > 0 {
			returns = append(returns, (equities[i]-equities[i-1])/equities[i-1])
		}
	}
	return returns
}

// sharpeRatio = (年化收益 - 无风险利率) / 年化波动率
func sharpeRatio(equities []float64) float64 {
	returns := periodReturns(equities)
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	annualized := mean * tradingDaysPerYear
	annualizedStd := std * math.Sqrt(tradingDaysPerYear)
	return (annualized - riskFreeRate) / annualizedStd
}

// sortinoRatio 与夏普同构，分母只计下行波动。
func sortinoRatio(equities []float64) float64 {
	returns := periodReturns(equities)
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	downside := 0.0
	for _, r := range returns {
		if r < 0 {
			downside += r * r
		}
	}
	downside = math.Sqrt(downside / float64(len(returns)))
	if downside == 0 {
		return 0
	}
	annualized := mean * tradingDaysPerYear
	annualizedDownside := downside * math.Sqrt(tradingDaysPerYear)
	return (annualized - riskFreeRate) / annualizedDownside
}

// tradeStats 只统计有盈亏的平仓成交。
func tradeStats(trades []*Trade) (winRate, profitFactor float64) {
	var wins, closed int
	var totalProfit, totalLoss float64
	for _, t := range trades {
		if t.PnL == 0 {
			continue
		}
		closed++
		if t.PnL > 0 {
			wins++
			totalProfit += t.PnL
		} else {
			totalLoss += -t.PnL
		}
	}
	if closed == 0 {
		return 0, 0
	}
	winRate = float64(wins) / float64(closed)
	if totalLoss > 0 {
		profitFactor = totalProfit / totalLoss
	} else {
		profitFactor = math.Inf(1)
	}
	return winRate, profitFactor
}
