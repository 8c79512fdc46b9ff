package strategy

import (
	"quantra/internal/backtest"
	"quantra/internal/indicator"
	"quantra/internal/market"
)

func init() {
	Register(Definition{
		Name:        "breakout_bracket",
		Description: "N 根新高突破入场，挂钩止损止盈保护",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"symbol":         map[string]any{"type": "string"},
				"lookback":       map[string]any{"type": "integer", "minimum": 2},
				"atr_period":     map[string]any{"type": "integer", "minimum": 1},
				"atr_multiplier": map[string]any{"type": "number", "exclusiveMinimum": 0},
				"reward_ratio":   map[string]any{"type": "number", "exclusiveMinimum": 0},
				"percent":        map[string]any{"type": "number", "exclusiveMinimum": 0, "maximum": 1},
			},
			"additionalProperties": false,
		},
		Build: func(params map[string]any) (backtest.Strategy, error) {
			return &breakoutBracket{
				symbol:     stringParam(params, "symbol", ""),
				lookback:   intParam(params, "lookback", 20),
				atrPeriod:  intParam(params, "atr_period", 14),
				atrMult:    floatParam(params, "atr_multiplier", 2),
				rewardRate: floatParam(params, "reward_ratio", 2),
				percent:    floatParam(params, "percent", 0.5),
			}, nil
		},
	})
}

// breakoutBracket 突破策略：收盘价创出 lookback 根内新高时买入，
// 止损放在入场价下方 ATR 的倍数，止盈按盈亏比放大。
type breakoutBracket struct {
	symbol     string
	lookback   int
	atrPeriod  int
	atrMult    float64
	rewardRate float64
	percent    float64
}

func (s *breakoutBracket) Init(ctx *backtest.Context) error {
	ctx.SetSizer(&backtest.PercentSizer{Percent: s.percent})
	return nil
}

func (s *breakoutBracket) OnBar(ctx *backtest.Context, bars map[string]market.Candle) {
	symbol, bar, ok := pickSymbol(s.symbol, bars)
	if !ok {
		return
	}
	if ctx.Position(symbol) != nil {
		return
	}

	need := s.lookback + 1
	if s.atrPeriod+1 > need {
		need = s.atrPeriod + 1
	}
	history := ctx.Bars(symbol, need)
	if len(history) < need {
		return
	}

	// 前 lookback 根的最高价，不含当前这根
	prevHigh := history[0].High
	for _, c := range history[:len(history)-1] {
		if c.High > prevHigh {
			prevHigh = c.High
		}
	}
	if bar.Close <= prevHigh {
		return
	}

	series := indicator.Extract(history)
	atr, ok := indicator.Last(indicator.ATR(series.Highs, series.Lows, series.Closes, s.atrPeriod))
	if !ok || atr <= 0 {
		return
	}

	stop := bar.Close - s.atrMult*atr
	limit := bar.Close + s.atrMult*atr*s.rewardRate
	ctx.LogIndicator("ATR", atr)
	ctx.LogSignal("突破新高入场")
	ctx.BuyBracket(symbol, 0, stop, limit)
}
