package backtest

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func curveOf(equities ...float64) []EquityPoint {
	curve := make([]EquityPoint, len(equities))
	for i, e := range equities {
		curve[i] = EquityPoint{Timestamp: int64(i) * 86_400_000, Equity: e}
	}
	return curve
}

func TestAnalyzeEmptyCurve(t *testing.T) {
	result := Analyze(100000, nil, nil)
	assert.Equal(t, 0.0, result.TotalReturn)
	assert.Equal(t, 0.0, result.MaxDrawdown)
	assert.Equal(t, 0, result.TotalTrades)
	assert.Empty(t, result.EquityCurve)
}

func TestAnalyzeReturns(t *testing.T) {
	t.Run("total return from initial capital", func(t *testing.T) {
		result := Analyze(100000, curveOf(100000, 105000, 110000), nil)
		assert.InDelta(t, 0.10, result.TotalReturn, 1e-9)
	})

	t.Run("annualized compounds over period length", func(t *testing.T) {
		// 73 个点 10% 收益 => (1.1)^(365/73) - 1 = 1.1^5 - 1
		curve := make([]EquityPoint, 73)
		for i := range curve {
			curve[i] = EquityPoint{Timestamp: int64(i), Equity: 100000}
		}
		curve[72].Equity = 110000
		result := Analyze(100000, curve, nil)
		assert.InDelta(t, math.Pow(1.1, 5)-1, result.AnnualizedReturn, 1e-9)
	})
}

func TestAnalyzeMaxDrawdown(t *testing.T) {
	t.Run("drawdown measured from running peak", func(t *testing.T) {
		result := Analyze(100000, curveOf(100000, 120000, 90000, 110000), nil)
		assert.InDelta(t, 0.25, result.MaxDrawdown, 1e-9)
	})

	t.Run("monotonic curve has zero drawdown", func(t *testing.T) {
		result := Analyze(100000, curveOf(100000, 101000, 102000), nil)
		assert.Equal(t, 0.0, result.MaxDrawdown)
		assert.Equal(t, 0.0, result.CalmarRatio)
	})

	t.Run("calmar is annualized over drawdown", func(t *testing.T) {
		result := Analyze(100000, curveOf(100000, 120000, 90000, 110000), nil)
		assert.InDelta(t, result.AnnualizedReturn/0.25, result.CalmarRatio, 1e-9)
	})
}

func TestAnalyzeRiskRatios(t *testing.T) {
	t.Run("flat curve yields zero sharpe", func(t *testing.T) {
		result := Analyze(100000, curveOf(100000, 100000, 100000), nil)
		assert.Equal(t, 0.0, result.SharpeRatio)
		assert.Equal(t, 0.0, result.SortinoRatio)
	})

	t.Run("sortino ignores upside volatility", func(t *testing.T) {
		result := Analyze(100000, curveOf(100000, 110000, 105000, 118000), nil)
		assert.Greater(t, result.SortinoRatio, result.SharpeRatio)
	})

	t.Run("sharpe matches hand computed value", func(t *testing.T) {
		equities := []float64{100000, 101000, 100500, 102000}
		returns := []float64{0.01, -500.0 / 101000, 1500.0 / 100500}
		mean := (returns[0] + returns[1] + returns[2]) / 3
		variance := 0.0
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		std := math.Sqrt(variance / 3)
		want := (mean*365 - 0.02) / (std * math.Sqrt(365))

		result := Analyze(100000, curveOf(equities...), nil)
		assert.InDelta(t, want, result.SharpeRatio, 1e-9)
	})
}

func TestAnalyzeTradeStats(t *testing.T) {
	t.Run("only closing trades counted", func(t *testing.T) {
		trades := []*Trade{
			{ID: "T1", PnL: 0}, // 开仓
			{ID: "T2", PnL: 100},
			{ID: "T3", PnL: -50},
			{ID: "T4", PnL: 200},
		}
		result := Analyze(100000, curveOf(100000, 100250), trades)
		assert.Equal(t, 4, result.TotalTrades)
		assert.InDelta(t, 2.0/3.0, result.WinRate, 1e-9)
		assert.InDelta(t, 6.0, result.ProfitFactor, 1e-9)
	})

	t.Run("no losses gives infinite profit factor", func(t *testing.T) {
		trades := []*Trade{{ID: "T1", PnL: 100}}
		result := Analyze(100000, curveOf(100000, 100100), trades)
		assert.Equal(t, 1.0, result.WinRate)
		assert.True(t, math.IsInf(result.ProfitFactor, 1))
	})

	t.Run("no closed trades", func(t *testing.T) {
		trades := []*Trade{{ID: "T1", PnL: 0}}
		result := Analyze(100000, curveOf(100000), trades)
		assert.Equal(t, 0.0, result.WinRate)
		assert.Equal(t, 0.0, result.ProfitFactor)
	})
}

func TestResultJSONEncoding(t *testing.T) {
	t.Run("infinite profit factor encoded as null", func(t *testing.T) {
		trades := []*Trade{{ID: "T1", PnL: 100}}
		result := Analyze(100000, curveOf(100000, 100100), trades)
		assert.True(t, math.IsInf(result.ProfitFactor, 1))

		data, err := json.Marshal(result)
		assert.NoError(t, err)
		assert.Contains(t, string(data), `"profit_factor":null`)
	})

	t.Run("finite profit factor kept as number", func(t *testing.T) {
		trades := []*Trade{{ID: "T1", PnL: 300}, {ID: "T2", PnL: -100}}
		result := Analyze(100000, curveOf(100000, 100200), trades)

		data, err := json.Marshal(result)
		assert.NoError(t, err)
		assert.Contains(t, string(data), `"profit_factor":3`)
	})
}
