package strategy

import (
	"fmt"

	"quantra/internal/backtest"
	"quantra/internal/indicator"
	"quantra/internal/market"
)

func init() {
	Register(Definition{
		Name:        "sma_cross",
		Description: "双均线交叉：金叉买入，死叉平仓",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol":      map[string]any{"type": "string"},
				"fast_period": map[string]any{"type": "integer", "minimum": 1},
				"slow_period": map[string]any{"type": "integer", "minimum": 2},
				"percent":     map[string]any{"type": "number", "exclusiveMinimum": 0, "maximum": 1},
			},
			"additionalProperties": false,
		},
		Build: func(params map[string]any) (backtest.Strategy, error) {
			s := &smaCross{
				symbol:  stringParam(params, "symbol", ""),
				fast:    intParam(params, "fast_period", 5),
				slow:    intParam(params, "slow_period", 20),
				percent: floatParam(params, "percent", 0.95),
			}
			if s.fast >= s.slow {
				return nil, fmt.Errorf("快线周期必须小于慢线周期: %d >= %d", s.fast, s.slow)
			}
			return s, nil
		},
	})
}

// smaCross 双均线交叉策略。
type smaCross struct {
	symbol  string
	fast    int
	slow    int
	percent float64
}

func (s *smaCross) Init(ctx *backtest.Context) error {
	ctx.SetSizer(&backtest.PercentSizer{Percent: s.percent})
	return nil
}

func (s *smaCross) OnBar(ctx *backtest.Context, bars map[string]market.Candle) {
	symbol, _, ok := pickSymbol(s.symbol, bars)
	if !ok {
		return
	}

	history := ctx.Bars(symbol, s.slow+1)
	if len(history) < s.slow+1 {
		return
	}
	closes := indicator.Extract(history).Closes
	fast := indicator.SMA(closes, s.fast)
	slow := indicator.SMA(closes, s.slow)
	if v, ok := indicator.Last(fast); ok {
		ctx.LogIndicator(fmt.Sprintf("SMA%d", s.fast), v)
	}
	if v, ok := indicator.Last(slow); ok {
		ctx.LogIndicator(fmt.Sprintf("SMA%d", s.slow), v)
	}

	pos := ctx.Position(symbol)
	switch {
	case indicator.CrossUp(fast, slow) && pos == nil:
		ctx.LogSignal("金叉买入")
		ctx.Buy(symbol, ctx.Size(symbol))
	case indicator.CrossDown(fast, slow) && pos != nil && pos.Quantity > 0:
		ctx.LogSignal("死叉平仓")
		ctx.Close(symbol)
	}
}

// pickSymbol 选定策略交易的对象：未指定时取快照里的任意一个。
func pickSymbol(want string, bars map[string]market.Candle) (string, market.Candle, bool) {
	if want != "" {
		bar, ok := bars[want]
		return want, bar, ok
	}
	for symbol, bar := range bars {
		return symbol, bar, true
	}
	return "", market.Candle{}, false
}
