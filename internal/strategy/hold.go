package strategy

import (
	"quantra/internal/backtest"
	"quantra/internal/market"
)

func init() {
	Register(Definition{
		Name:        "buy_hold",
		Description: "第一根 K 线全仓买入后持有到结束",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol":  map[string]any{"type": "string"},
				"capital": map[string]any{"type": "number", "exclusiveMinimum": 0},
			},
			"additionalProperties": false,
		},
		Build: func(params map[string]any) (backtest.Strategy, error) {
			return &buyHold{
				symbol:  stringParam(params, "symbol", ""),
				capital: floatParam(params, "capital", 0),
			}, nil
		},
	})
}

// buyHold 基准策略，用来和主动策略对比收益。
type buyHold struct {
	symbol  string
	capital float64
	entered bool
}

func (s *buyHold) Init(ctx *backtest.Context) error {
	if s.capital > 0 {
		if err := ctx.SetCapital(s.capital); err != nil {
			return err
		}
	}
	ctx.SetSizer(&backtest.AllInSizer{})
	s.entered = false
	return nil
}

func (s *buyHold) OnBar(ctx *backtest.Context, bars map[string]market.Candle) {
	if s.entered {
		return
	}
	symbol, _, ok := pickSymbol(s.symbol, bars)
	if !ok {
		return
	}
	ctx.Buy(symbol, ctx.Size(symbol))
	s.entered = true
}
