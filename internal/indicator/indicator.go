// Package indicator 封装策略常用的技术指标计算。
// 输入统一为 K 线序列，输出保留完整序列，暖机期内的值为 NaN。
package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"quantra/internal/market"
)

// Series 把 K 线拆成指标计算所需的基础序列。
type Series struct {
	Closes  []float64
	Highs   []float64
	Lows    []float64
	Volumes []float64
}

func Extract(candles []market.Candle) Series {
	s := Series{
		Closes:  make([]float64, len(candles)),
		Highs:   make([]float64, len(candles)),
		Lows:    make([]float64, len(candles)),
		Volumes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Closes[i] = c.Close
		s.Highs[i] = c.High
		s.Lows[i] = c.Low
		s.Volumes[i] = c.Volume
	}
	return s
}

// SMA 简单移动平均，长度不足返回全 NaN。
func SMA(closes []float64, period int) []float64 {
	if len(closes) < period || period <= 0 {
		return nanSeries(len(closes))
	}
	return maskWarmup(talib.Sma(closes, period), period-1)
}

// EMA 指数移动平均。
func EMA(closes []float64, period int) []float64 {
	if len(closes) < period || period <= 0 {
		return nanSeries(len(closes))
	}
	return maskWarmup(talib.Ema(closes, period), period-1)
}

// RSI 相对强弱指标。
func RSI(closes []float64, period int) []float64 {
	if len(closes) <= period || period <= 0 {
		return nanSeries(len(closes))
	}
	return maskWarmup(talib.Rsi(closes, period), period)
}

// ATR 平均真实波幅。
func ATR(highs, lows, closes []float64, period int) []float64 {
	if len(closes) <= period || period <= 0 {
		return nanSeries(len(closes))
	}
	return maskWarmup(talib.Atr(highs, lows, closes, period), period)
}

// MACD 返回 macd、signal、histogram 三条序列。
func MACD(closes []float64, fast, slow, signal int) (macd, sig, hist []float64) {
	if len(closes) < slow+signal {
		n := nanSeries(len(closes))
		return n, n, n
	}
	macd, sig, hist = talib.Macd(closes, fast, slow, signal)
	warmup := slow + signal - 2
	return maskWarmup(macd, warmup), maskWarmup(sig, warmup), maskWarmup(hist, warmup)
}

// Bollinger 返回上轨、中轨、下轨。
func Bollinger(closes []float64, period int, dev float64) (upper, middle, lower []float64) {
	if len(closes) < period || period <= 0 {
		n := nanSeries(len(closes))
		return n, n, n
	}
	upper, middle, lower = talib.BBands(closes, period, dev, dev, talib.SMA)
	return maskWarmup(upper, period-1), maskWarmup(middle, period-1), maskWarmup(lower, period-1)
}

// Last 取序列末尾的有效值，暖机期未过时 ok 为 false。
func Last(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// CrossUp 判断 a 是否在最后一根上穿 b。
func CrossUp(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	prevA, prevB := a[n-2], b[n-2]
	curA, curB := a[n-1], b[n-1]
	if math.IsNaN(prevA) || math.IsNaN(prevB) || math.IsNaN(curA) || math.IsNaN(curB) {
		return false
	}
	return prevA <= prevB && curA > curB
}

// CrossDown 判断 a 是否在最后一根下穿 b。
func CrossDown(a, b []float64) bool {
	n := len(a)
	if n < 2 || len(b) != n {
		return false
	}
	prevA, prevB := a[n-2], b[n-2]
	curA, curB := a[n-1], b[n-1]
	if math.IsNaN(prevA) || math.IsNaN(prevB) || math.IsNaN(curA) || math.IsNaN(curB) {
		return false
	}
	return prevA >= prevB && curA < curB
}

// talib 对暖机期输出 0，统一替换成 NaN 避免被当成真实值。
func maskWarmup(series []float64, warmup int) []float64 {
	for i := 0; i < warmup && i < len(series); i++ {
		series[i] = math.NaN()
	}
	return series
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
