package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"quantra/internal/market"
	"quantra/internal/store"
)

// fakeSource 从一条预生成的连续序列里按请求区间切片。
type fakeSource struct {
	candles []market.Candle
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []market.Candle
	for _, c := range f.candles {
		if c.OpenTime >= req.Start && c.OpenTime <= req.End {
			out = append(out, c)
			if len(out) >= req.Limit {
				break
			}
		}
	}
	return out, nil
}

func continuousCandles(symbol string, start int64, count int) []market.Candle {
	candles := make([]market.Candle, count)
	for i := range candles {
		ts := start + int64(i)*60_000
		candles[i] = market.Candle{
			Symbol:    symbol,
			OpenTime:  ts,
			CloseTime: ts + 59_999,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100,
			Volume:    10,
		}
	}
	return candles
}

func newFetchService(t *testing.T, src CandleSource) (*FetchService, *store.CandleStore) {
	t.Helper()
	cs, err := store.NewCandleStore(t.TempDir())
	assert.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	svc, err := NewFetchService(FetchServiceConfig{
		Store:           cs,
		Sources:         map[string]CandleSource{"fake": src},
		DefaultExchange: "fake",
		RateLimitPerMin: 60_000,
		MaxBatch:        3,
	})
	assert.NoError(t, err)
	return svc, cs
}

func waitJob(t *testing.T, svc *FetchService, id string, want ...string) FetchJob {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		job, ok := svc.JobSnapshot(id)
		assert.True(t, ok)
		for _, status := range want {
			if job.Status == status {
				return job
			}
		}
		select {
		case <-deadline:
			t.Fatalf("等待任务状态 %v 超时，当前 %s", want, job.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestFetchServiceSubmitValidation(t *testing.T) {
	svc, _ := newFetchService(t, &fakeSource{})

	_, err := svc.Submit(FetchParams{Timeframe: "1m", Start: 0, End: 60_000})
	assert.Error(t, err, "缺少 symbol")

	_, err = svc.Submit(FetchParams{Symbol: "BTCUSDT", Timeframe: "9m", Start: 0, End: 60_000})
	assert.Error(t, err, "非法周期")

	_, err = svc.Submit(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Start: 60_000, End: 60_000})
	assert.Error(t, err, "空区间")

	_, err = svc.Submit(FetchParams{Exchange: "okx", Symbol: "BTCUSDT", Timeframe: "1m", Start: 0, End: 60_000})
	assert.Error(t, err, "未注册的数据源")
}

func TestFetchServiceFillsGaps(t *testing.T) {
	src := &fakeSource{candles: continuousCandles("BTCUSDT", 60_000, 10)}
	svc, cs := newFetchService(t, src)

	job, err := svc.Submit(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Start: 60_000, End: 600_000})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), job.Total)

	final := waitJob(t, svc, job.ID, JobStatusDone)
	assert.Equal(t, int64(10), final.Completed)
	assert.Empty(t, final.Missing)
	assert.Greater(t, src.calls, 1, "批大小 3 需要分多次拉取")

	report, err := cs.CheckIntegrity(context.Background(), "BTCUSDT", "1m", mustTimeframe(t, "1m"), 60_000, 600_000)
	assert.NoError(t, err)
	assert.True(t, report.Complete())
}

func TestFetchServiceAlreadyComplete(t *testing.T) {
	src := &fakeSource{candles: continuousCandles("BTCUSDT", 60_000, 5)}
	svc, cs := newFetchService(t, src)

	_, err := cs.InsertCandles(context.Background(), "BTCUSDT", "1m", continuousCandles("BTCUSDT", 60_000, 5))
	assert.NoError(t, err)

	job, err := svc.Submit(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Start: 60_000, End: 300_000})
	assert.NoError(t, err)
	assert.Equal(t, JobStatusDone, job.Status)
	assert.Contains(t, job.Message, "已完整")
	assert.Equal(t, 0, src.calls)
}

func TestFetchServicePartial(t *testing.T) {
	// 数据源只有前 3 根，后面的区间拉取为空
	src := &fakeSource{candles: continuousCandles("BTCUSDT", 60_000, 3)}
	svc, _ := newFetchService(t, src)

	job, err := svc.Submit(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Start: 60_000, End: 600_000})
	assert.NoError(t, err)

	final := waitJob(t, svc, job.ID, JobStatusPartial)
	assert.NotEmpty(t, final.Missing)
	assert.NotEmpty(t, final.Warnings)
	assert.Contains(t, final.Message, "缺口")
}

func TestFetchServiceSourceFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("接口限频")}
	svc, _ := newFetchService(t, src)

	job, err := svc.Submit(FetchParams{Symbol: "BTCUSDT", Timeframe: "1m", Start: 60_000, End: 300_000})
	assert.NoError(t, err)

	final := waitJob(t, svc, job.ID, JobStatusFailed)
	assert.Contains(t, final.Message, "拉取失败")
}

func mustTimeframe(t *testing.T, key string) market.Timeframe {
	t.Helper()
	tf, err := market.ParseTimeframe(key)
	assert.NoError(t, err)
	return tf
}

func TestDropUnclosed(t *testing.T) {
	now := time.Now().UnixMilli()

	t.Run("drops the forming candle", func(t *testing.T) {
		candles := []market.Candle{
			{OpenTime: now - 120_000},
			{OpenTime: now - 30_000}, // 1m 周期尚未收盘
		}
		out := dropUnclosed(candles, "1m")
		assert.Len(t, out, 1)
	})

	t.Run("keeps closed candles", func(t *testing.T) {
		candles := []market.Candle{{OpenTime: now - 120_000}}
		out := dropUnclosed(candles, "1m")
		assert.Len(t, out, 1)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, dropUnclosed(nil, "1m"))
	})
}

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 42.5, parseFloat("42.5"))
	assert.Equal(t, 0.0, parseFloat("not-a-number"))
}
