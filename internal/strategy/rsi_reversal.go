package strategy

import (
	"quantra/internal/backtest"
	"quantra/internal/indicator"
	"quantra/internal/market"
)

func init() {
	Register(Definition{
		Name:        "rsi_reversal",
		Description: "RSI 超卖买入，移动止损跟踪离场",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol":        map[string]any{"type": "string"},
				"period":        map[string]any{"type": "integer", "minimum": 2},
				"oversold":      map[string]any{"type": "number", "minimum": 0, "maximum": 100},
				"trail_percent": map[string]any{"type": "number", "exclusiveMinimum": 0, "maximum": 1},
				"percent":       map[string]any{"type": "number", "exclusiveMinimum": 0, "maximum": 1},
			},
			"additionalProperties": false,
		},
		Build: func(params map[string]any) (backtest.Strategy, error) {
			return &rsiReversal{
				symbol:       stringParam(params, "symbol", ""),
				period:       intParam(params, "period", 14),
				oversold:     floatParam(params, "oversold", 30),
				trailPercent: floatParam(params, "trail_percent", 0.05),
				percent:      floatParam(params, "percent", 0.5),
			}, nil
		},
	})
}

// rsiReversal 超卖反转策略，入场后立刻挂移动止损。
type rsiReversal struct {
	symbol       string
	period       int
	oversold     float64
	trailPercent float64
	percent      float64
}

func (s *rsiReversal) Init(ctx *backtest.Context) error {
	ctx.SetSizer(&backtest.PercentSizer{Percent: s.percent})
	return nil
}

func (s *rsiReversal) OnBar(ctx *backtest.Context, bars map[string]market.Candle) {
	symbol, _, ok := pickSymbol(s.symbol, bars)
	if !ok {
		return
	}
	if ctx.Position(symbol) != nil {
		return
	}

	history := ctx.Bars(symbol, s.period+2)
	if len(history) < s.period+2 {
		return
	}
	closes := indicator.Extract(history).Closes
	rsi, ok := indicator.Last(indicator.RSI(closes, s.period))
	if !ok {
		return
	}
	ctx.LogIndicator("RSI", rsi)
	if rsi >= s.oversold {
		return
	}

	ctx.LogSignal("RSI 超卖买入")
	order := ctx.Buy(symbol, ctx.Size(symbol))
	if order != nil && order.Status != backtest.StatusRejected {
		ctx.TrailingStop(symbol, order.Quantity, 0, s.trailPercent)
	}
}
