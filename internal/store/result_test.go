package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quantra/internal/backtest"
	"quantra/internal/task"
)

func sampleRun(id string) task.Run {
	now := time.Now()
	return task.Run{
		ID:     id,
		Status: task.StatusDone,
		Params: task.Params{
			Strategy:  json.RawMessage(`{"name": "sma_cross"}`),
			Symbols:   []string{"BTCUSDT"},
			Timeframe: "1h",
			Start:     1,
			End:       2,
			Config:    backtest.DefaultConfig(),
		},
		Result: &backtest.Result{
			TotalReturn: 0.04,
			MaxDrawdown: 0.1,
			TotalTrades: 2,
			EquityCurve: []backtest.EquityPoint{
				{Timestamp: 1000, Equity: 100000},
				{Timestamp: 2000, Equity: 104000},
			},
			Trades: []backtest.Trade{
				{ID: "T000001", OrderID: "O000001", Symbol: "BTCUSDT", Side: backtest.SideBuy, Price: 100, Quantity: 20, Timestamp: 1000},
				{ID: "T000002", OrderID: "O000002", Symbol: "BTCUSDT", Side: backtest.SideSell, Price: 300, Quantity: 20, Timestamp: 2000, PnL: 4000},
			},
			Logs: []backtest.LogEntry{
				{Timestamp: 1000, Equity: 100000, Signals: []string{"金叉买入"}},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newResultStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResultStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newResultStore(t)

	assert.NoError(t, s.SaveRun(ctx, sampleRun("run-1")))

	t.Run("list runs", func(t *testing.T) {
		runs, err := s.ListRuns(ctx, 10)
		assert.NoError(t, err)
		assert.Len(t, runs, 1)
		assert.Equal(t, "run-1", runs[0].ID)
		assert.Equal(t, task.StatusDone, runs[0].Status)
		assert.InDelta(t, 0.04, runs[0].TotalReturn, 1e-9)
		assert.Equal(t, 2, runs[0].TotalTrades)
		assert.Contains(t, runs[0].Params, "sma_cross")
	})

	t.Run("trades", func(t *testing.T) {
		trades, err := s.RunTrades(ctx, "run-1")
		assert.NoError(t, err)
		assert.Len(t, trades, 2)
		assert.Equal(t, backtest.SideSell, trades[1].Side)
		assert.InDelta(t, 4000.0, trades[1].PnL, 1e-9)
	})

	t.Run("equity curve", func(t *testing.T) {
		curve, err := s.RunEquity(ctx, "run-1")
		assert.NoError(t, err)
		assert.Len(t, curve, 2)
		assert.Equal(t, 104000.0, curve[1].Equity)
	})

	t.Run("logs", func(t *testing.T) {
		logs, err := s.RunLogs(ctx, "run-1", 0)
		assert.NoError(t, err)
		assert.Len(t, logs, 1)
		assert.Equal(t, []string{"金叉买入"}, logs[0].Signals)
	})
}

func TestResultStoreResave(t *testing.T) {
	ctx := context.Background()
	s := newResultStore(t)

	run := sampleRun("run-1")
	assert.NoError(t, s.SaveRun(ctx, run))

	// 同 ID 重存覆盖旧明细而不是追加
	run.Result.Trades = run.Result.Trades[:1]
	run.Status = task.StatusFailed
	run.Error = "重算"
	assert.NoError(t, s.SaveRun(ctx, run))

	runs, err := s.ListRuns(ctx, 10)
	assert.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, task.StatusFailed, runs[0].Status)
	assert.Equal(t, "重算", runs[0].Error)

	trades, err := s.RunTrades(ctx, "run-1")
	assert.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestResultStoreClosed(t *testing.T) {
	s := newResultStore(t)
	assert.NoError(t, s.Close())
	_, err := s.ListRuns(context.Background(), 1)
	assert.Error(t, err)
}
