package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"quantra/internal/market"
)

func TestExtract(t *testing.T) {
	candles := []market.Candle{
		{Open: 1, High: 3, Low: 0.5, Close: 2, Volume: 10},
		{Open: 2, High: 4, Low: 1.5, Close: 3, Volume: 20},
	}
	s := Extract(candles)
	assert.Equal(t, []float64{2, 3}, s.Closes)
	assert.Equal(t, []float64{3, 4}, s.Highs)
	assert.Equal(t, []float64{0.5, 1.5}, s.Lows)
	assert.Equal(t, []float64{10, 20}, s.Volumes)
}

func TestSMA(t *testing.T) {
	t.Run("warmup masked as nan", func(t *testing.T) {
		out := SMA([]float64{1, 2, 3, 4, 5}, 3)
		assert.Len(t, out, 5)
		assert.True(t, math.IsNaN(out[0]))
		assert.True(t, math.IsNaN(out[1]))
		assert.InDelta(t, 2.0, out[2], 1e-9)
		assert.InDelta(t, 4.0, out[4], 1e-9)
	})

	t.Run("short input all nan", func(t *testing.T) {
		out := SMA([]float64{1, 2}, 3)
		assert.Len(t, out, 2)
		for _, v := range out {
			assert.True(t, math.IsNaN(v))
		}
	})
}

func TestRSIWarmup(t *testing.T) {
	closes := []float64{44, 44.3, 44.1, 44.2, 44.5, 44.8, 45.1, 45.4, 45.2, 45.6, 46.0}
	out := RSI(closes, 5)
	assert.Len(t, out, len(closes))
	for i := 0; i < 5; i++ {
		assert.True(t, math.IsNaN(out[i]), "第 %d 个值应处于暖机期", i)
	}
	assert.False(t, math.IsNaN(out[len(out)-1]))
}

func TestLast(t *testing.T) {
	_, ok := Last(nil)
	assert.False(t, ok)

	_, ok = Last([]float64{math.NaN()})
	assert.False(t, ok)

	v, ok := Last([]float64{math.NaN(), 1.5})
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
}

func TestCross(t *testing.T) {
	t.Run("cross up on last bar", func(t *testing.T) {
		assert.True(t, CrossUp([]float64{1, 3}, []float64{2, 2}))
		assert.False(t, CrossUp([]float64{3, 4}, []float64{2, 2}), "持续在上方不算上穿")
		assert.False(t, CrossUp([]float64{3, 1}, []float64{2, 2}))
	})

	t.Run("cross down on last bar", func(t *testing.T) {
		assert.True(t, CrossDown([]float64{3, 1}, []float64{2, 2}))
		assert.False(t, CrossDown([]float64{1, 3}, []float64{2, 2}))
	})

	t.Run("nan suppresses signal", func(t *testing.T) {
		assert.False(t, CrossUp([]float64{math.NaN(), 3}, []float64{2, 2}))
	})

	t.Run("length mismatch", func(t *testing.T) {
		assert.False(t, CrossUp([]float64{1, 3}, []float64{2}))
		assert.False(t, CrossUp([]float64{3}, []float64{2}))
	})
}
