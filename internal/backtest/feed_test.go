package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"quantra/internal/market"
)

func candleAt(symbol string, ts int64, close float64) market.Candle {
	return market.Candle{
		Symbol:   symbol,
		OpenTime: ts,
		Open:     close,
		High:     close,
		Low:      close,
		Close:    close,
		Volume:   1,
	}
}

func TestSingleFeed(t *testing.T) {
	feed := NewFeed(map[string][]market.Candle{
		"BTCUSDT": {candleAt("BTCUSDT", 1000, 100), candleAt("BTCUSDT", 2000, 101)},
	})
	assert.Equal(t, []string{"BTCUSDT"}, feed.Symbols())
	assert.Equal(t, 2, feed.Len())

	snap, ok := feed.Next()
	assert.True(t, ok)
	assert.Equal(t, 100.0, snap["BTCUSDT"].Close)
	snap, ok = feed.Next()
	assert.True(t, ok)
	assert.Equal(t, 101.0, snap["BTCUSDT"].Close)
	_, ok = feed.Next()
	assert.False(t, ok)

	feed.Reset()
	snap, ok = feed.Next()
	assert.True(t, ok)
	assert.Equal(t, 100.0, snap["BTCUSDT"].Close)
}

func TestMultiFeedAlignment(t *testing.T) {
	feed := NewFeed(map[string][]market.Candle{
		"BTCUSDT": {
			candleAt("BTCUSDT", 1000, 100),
			candleAt("BTCUSDT", 2000, 101),
			candleAt("BTCUSDT", 3000, 102),
		},
		"ETHUSDT": {
			candleAt("ETHUSDT", 2000, 50),
		},
	})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, feed.Symbols())
	assert.Equal(t, 3, feed.Len())

	t.Run("symbol absent before first candle", func(t *testing.T) {
		snap, ok := feed.Next()
		assert.True(t, ok)
		assert.Len(t, snap, 1)
		assert.Equal(t, 100.0, snap["BTCUSDT"].Close)
	})

	t.Run("both symbols aligned on shared timestamp", func(t *testing.T) {
		snap, ok := feed.Next()
		assert.True(t, ok)
		assert.Len(t, snap, 2)
		assert.Equal(t, 101.0, snap["BTCUSDT"].Close)
		assert.Equal(t, 50.0, snap["ETHUSDT"].Close)
	})

	t.Run("missing candle forward filled", func(t *testing.T) {
		snap, ok := feed.Next()
		assert.True(t, ok)
		assert.Equal(t, 102.0, snap["BTCUSDT"].Close)
		assert.Equal(t, int64(2000), snap["ETHUSDT"].OpenTime)
		assert.Equal(t, 50.0, snap["ETHUSDT"].Close)
	})

	_, ok := feed.Next()
	assert.False(t, ok)
}

func TestTimeframeFeedAggregation(t *testing.T) {
	tf, err := market.ParseTimeframe("5m")
	assert.NoError(t, err)

	minute := int64(60_000)
	base := []market.Candle{
		{Symbol: "BTCUSDT", OpenTime: 0 * minute, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10},
		{Symbol: "BTCUSDT", OpenTime: 1 * minute, Open: 100, High: 107, Low: 100, Close: 106, Volume: 10},
		{Symbol: "BTCUSDT", OpenTime: 2 * minute, Open: 106, High: 106, Low: 98, Close: 99, Volume: 10},
		{Symbol: "BTCUSDT", OpenTime: 3 * minute, Open: 99, High: 103, Low: 99, Close: 102, Volume: 10},
		{Symbol: "BTCUSDT", OpenTime: 4 * minute, Open: 102, High: 104, Low: 101, Close: 103, Volume: 10},
		{Symbol: "BTCUSDT", OpenTime: 5 * minute, Open: 103, High: 105, Low: 102, Close: 104, Volume: 10},
	}
	feed := NewTimeframeFeed(NewSingleFeed("BTCUSDT", base), tf)

	// 前 5 根都在第一个桶内，桶未收盘前不可见
	for i := 0; i < 5; i++ {
		_, ok := feed.Next()
		assert.True(t, ok)
		assert.Empty(t, feed.Bars("BTCUSDT"), "第 %d 根不应暴露未收盘的高周期 K 线", i)
	}

	// 第 6 根开启新桶，第一个 5m 桶随之完成
	_, ok := feed.Next()
	assert.True(t, ok)
	bars := feed.Bars("BTCUSDT")
	assert.Len(t, bars, 1)
	agg := bars[0]
	assert.Equal(t, int64(0), agg.OpenTime)
	assert.Equal(t, 5*minute-1, agg.CloseTime)
	assert.Equal(t, 100.0, agg.Open)
	assert.Equal(t, 107.0, agg.High)
	assert.Equal(t, 98.0, agg.Low)
	assert.Equal(t, 103.0, agg.Close)
	assert.Equal(t, 50.0, agg.Volume)

	_, ok = feed.Next()
	assert.False(t, ok)
}

func TestTimeframeFeedChainedBars(t *testing.T) {
	tf5, err := market.ParseTimeframe("5m")
	assert.NoError(t, err)
	tf15, err := market.ParseTimeframe("15m")
	assert.NoError(t, err)
	tf1h, err := market.ParseTimeframe("1h")
	assert.NoError(t, err)

	minute := int64(60_000)
	base := make([]market.Candle, 16)
	for i := range base {
		base[i] = candleAt("BTCUSDT", int64(i)*minute, 100+float64(i))
	}
	feed := NewFeed(map[string][]market.Candle{"BTCUSDT": base}, tf5, tf15)
	src, ok := feed.(TimeframeBarSource)
	assert.True(t, ok)

	for {
		if _, more := feed.Next(); !more {
			break
		}
	}

	t.Run("outer timeframe served directly", func(t *testing.T) {
		bars := src.TimeframeBars("BTCUSDT", tf15)
		assert.Len(t, bars, 1)
		assert.Equal(t, int64(0), bars[0].OpenTime)
		assert.Equal(t, 15*minute-1, bars[0].CloseTime)
	})

	t.Run("inner timeframe reached through the chain", func(t *testing.T) {
		bars := src.TimeframeBars("BTCUSDT", tf5)
		assert.Len(t, bars, 3)
		assert.Equal(t, 10*minute, bars[2].OpenTime)
	})

	t.Run("unmounted timeframe returns nothing", func(t *testing.T) {
		assert.Empty(t, src.TimeframeBars("BTCUSDT", tf1h))
	})
}
