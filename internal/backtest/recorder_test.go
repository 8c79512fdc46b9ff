package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"quantra/internal/market"
)

func TestRecorder(t *testing.T) {
	t.Run("disabled recorder stays empty", func(t *testing.T) {
		r := NewRecorder(false)
		r.LogBar(1000, map[string]market.Candle{"BTCUSDT": makeBar(100, 105, 95, 102)}, 100000, nil)
		r.AddSignal("买入")
		r.Commit()
		assert.Empty(t, r.Entries())
	})

	t.Run("entry collects events until commit", func(t *testing.T) {
		r := NewRecorder(true)
		r.LogBar(1000, map[string]market.Candle{"BTCUSDT": makeBar(100, 105, 95, 102)}, 100000,
			map[string]float64{"BTCUSDT": 2})
		r.AddIndicator("SMA5", 101.5)
		r.AddSignal("金叉买入")
		r.AddNote("第一笔")
		r.AddOrder(&Order{ID: "O1", Symbol: "BTCUSDT", Side: SideBuy, Quantity: 1, Status: StatusFilled})
		r.Commit()

		entries := r.Entries()
		assert.Len(t, entries, 1)
		entry := entries[0]
		assert.Equal(t, int64(1000), entry.Timestamp)
		assert.Equal(t, 102.0, entry.Bars["BTCUSDT"].Close)
		assert.Equal(t, 101.5, entry.Indicators["SMA5"])
		assert.Equal(t, []string{"金叉买入"}, entry.Signals)
		assert.Equal(t, "第一笔", entry.Note)
		assert.Len(t, entry.Orders, 1)
		assert.Equal(t, 2.0, entry.Positions["BTCUSDT"])
	})

	t.Run("events without open entry dropped", func(t *testing.T) {
		r := NewRecorder(true)
		r.AddSignal("孤儿信号")
		r.Commit()
		assert.Empty(t, r.Entries())
	})
}
