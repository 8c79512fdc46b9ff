package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionApply(t *testing.T) {
	t.Run("open new long", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT"}
		pnl := pos.Apply(2, 100)
		assert.Equal(t, 0.0, pnl)
		assert.Equal(t, 2.0, pos.Quantity)
		assert.Equal(t, 100.0, pos.AvgPrice)
	})

	t.Run("add same direction averages price", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT"}
		pos.Apply(1, 100)
		pnl := pos.Apply(1, 110)
		assert.Equal(t, 0.0, pnl)
		assert.Equal(t, 2.0, pos.Quantity)
		assert.InDelta(t, 105.0, pos.AvgPrice, 1e-9)
	})

	t.Run("partial reduce realizes pnl and keeps avg", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT"}
		pos.Apply(2, 100)
		pnl := pos.Apply(-1, 120)
		assert.InDelta(t, 20.0, pnl, 1e-9)
		assert.Equal(t, 1.0, pos.Quantity)
		assert.Equal(t, 100.0, pos.AvgPrice)
	})

	t.Run("full close zeroes position", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT"}
		pos.Apply(2, 100)
		pnl := pos.Apply(-2, 120)
		assert.InDelta(t, 40.0, pnl, 1e-9)
		assert.Equal(t, 0.0, pos.Quantity)
		assert.Equal(t, 0.0, pos.AvgPrice)
	})

	t.Run("reversal closes old side and opens remainder", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT"}
		pos.Apply(2, 100)
		pnl := pos.Apply(-3, 120)
		assert.InDelta(t, 40.0, pnl, 1e-9)
		assert.Equal(t, -1.0, pos.Quantity)
		assert.Equal(t, 120.0, pos.AvgPrice)
	})

	t.Run("short side pnl on cover", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT"}
		pos.Apply(-2, 100)
		pnl := pos.Apply(2, 90)
		assert.InDelta(t, 20.0, pnl, 1e-9)
		assert.Equal(t, 0.0, pos.Quantity)
	})

	t.Run("dust snaps to zero", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT"}
		pos.Apply(0.3, 100)
		pos.Apply(-0.1, 100)
		pos.Apply(-0.2, 100)
		assert.Equal(t, 0.0, pos.Quantity)
		assert.Equal(t, 0.0, pos.AvgPrice)
	})
}

func TestPositionValuation(t *testing.T) {
	t.Run("long unrealized and market value", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT", Quantity: 2, AvgPrice: 100}
		assert.InDelta(t, 40.0, pos.UnrealizedPnL(120), 1e-9)
		assert.InDelta(t, 240.0, pos.MarketValue(120), 1e-9)
	})

	t.Run("short market value marks unrealized pnl", func(t *testing.T) {
		pos := &Position{Symbol: "BTCUSDT", Quantity: -2, AvgPrice: 100}
		// 空头市值口径: (均价 - 现价) × |数量|
		assert.InDelta(t, 20.0, pos.MarketValue(90), 1e-9)
		assert.InDelta(t, -20.0, pos.MarketValue(110), 1e-9)
		assert.InDelta(t, 20.0, pos.UnrealizedPnL(90), 1e-9)
	})
}
