package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"quantra/internal/market"
	"quantra/internal/strategy"
	"quantra/internal/task"
)

type fixedProvider struct{ count int }

func (p *fixedProvider) Candles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	candles := make([]market.Candle, p.count)
	for i := range candles {
		price := 100 + float64(i)
		candles[i] = market.Candle{
			Symbol:   symbol,
			OpenTime: start + int64(i)*3_600_000,
			Open:     price,
			High:     price + 1,
			Low:      price - 1,
			Close:    price,
			Volume:   1000,
		}
	}
	return candles, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tasks, err := task.NewService(task.ServiceConfig{
		Provider: &fixedProvider{count: 3},
		Loader:   strategy.NewLoader(),
	})
	assert.NoError(t, err)

	srv, err := NewServer(Config{Tasks: tasks})
	assert.NoError(t, err)
	return srv
}

func doRequest(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func waitRunDone(t *testing.T, srv *Server, id string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		run, ok := srv.tasks.Snapshot(id)
		assert.True(t, ok)
		if run.Done() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("等待任务结束超时，当前 %s", run.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestServerRequiresTasks(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestStrategiesEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(srv, http.MethodGet, "/api/strategies", "")
	assert.Equal(t, http.StatusOK, w.Code)

	names := gjson.Get(w.Body.String(), "strategies.#.name")
	assert.Contains(t, names.Raw, "sma_cross")
}

func TestRunLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	t.Run("malformed body rejected", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/runs", `{"symbols": `)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown strategy rejected", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/runs", `{
			"strategy": {"name": "no_such"},
			"symbols": ["BTCUSDT"],
			"timeframe": "1h",
			"start": 1,
			"end": 7200000
		}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("submit query and cancel-after-done", func(t *testing.T) {
		w := doRequest(srv, http.MethodPost, "/api/runs", `{
			"strategy": {"name": "buy_hold"},
			"symbols": ["BTCUSDT"],
			"timeframe": "1h",
			"start": 3600000,
			"end": 14400000
		}`)
		assert.Equal(t, http.StatusAccepted, w.Code)
		id := gjson.Get(w.Body.String(), "run.id").String()
		assert.NotEmpty(t, id)

		waitRunDone(t, srv, id)

		detail := doRequest(srv, http.MethodGet, "/api/runs/"+id, "")
		assert.Equal(t, http.StatusOK, detail.Code)
		assert.Equal(t, "done", gjson.Get(detail.Body.String(), "run.status").String())
		assert.True(t, gjson.Get(detail.Body.String(), "run.result").Exists())

		list := doRequest(srv, http.MethodGet, "/api/runs", "")
		assert.Equal(t, http.StatusOK, list.Code)
		assert.Equal(t, int64(1), gjson.Get(list.Body.String(), "runs.#").Int())

		cancel := doRequest(srv, http.MethodDelete, "/api/runs/"+id, "")
		assert.Equal(t, http.StatusConflict, cancel.Code)

		rep := doRequest(srv, http.MethodGet, "/api/runs/"+id+"/report", "")
		assert.Equal(t, http.StatusOK, rep.Code)
		assert.Contains(t, rep.Header().Get("Content-Type"), "text/html")
	})

	t.Run("missing run", func(t *testing.T) {
		w := doRequest(srv, http.MethodGet, "/api/runs/missing", "")
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = doRequest(srv, http.MethodGet, "/api/runs/missing/stream", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestOptionalServicesUnavailable(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/history", "/api/runs/x/trades", "/api/runs/x/equity", "/api/runs/x/logs"} {
		w := doRequest(srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}

	w := doRequest(srv, http.MethodPost, "/api/fetch", `{"symbol":"BTCUSDT","timeframe":"1h","start_ts":1,"end_ts":2}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(srv, http.MethodGet, "/api/candles?symbol=BTCUSDT&timeframe=1h", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
