package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"quantra/internal/market"
)

const maxKlineLimit = 1500

// BinanceSource 基于 go-binance SDK 拉取 USDT 合约 K 线。
type BinanceSource struct {
	client *futures.Client
}

// BinanceConfig 配置 REST 端点与超时。
type BinanceConfig struct {
	BaseURL     string
	HTTPTimeout time.Duration
}

func NewBinanceSource(cfg BinanceConfig) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &BinanceSource{client: client}
}

func (s *BinanceSource) Name() string { return "binance" }

func (s *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	interval := strings.ToLower(strings.TrimSpace(req.Interval))
	if interval == "" {
		return nil, fmt.Errorf("interval 不能为空")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxKlineLimit {
		limit = 1000
	}

	svc := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			Symbol:        symbol,
			OpenTime:      kl.OpenTime,
			CloseTime:     kl.CloseTime,
			Open:          parseFloat(kl.Open),
			High:          parseFloat(kl.High),
			Low:           parseFloat(kl.Low),
			Close:         parseFloat(kl.Close),
			Volume:        parseFloat(kl.Volume),
			QuoteVolume:   parseFloat(kl.QuoteAssetVolume),
			Trades:        kl.TradeNum,
			TakerBuyBase:  parseFloat(kl.TakerBuyBaseAssetVolume),
			TakerBuyQuote: parseFloat(kl.TakerBuyQuoteAssetVolume),
		})
	}
	return dropUnclosed(out, interval), nil
}

// dropUnclosed 丢弃最后一根尚未收盘的 K 线，避免半成品数据入库。
func dropUnclosed(candles []market.Candle, interval string) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	tf, err := market.ParseTimeframe(interval)
	if err != nil {
		return candles
	}
	last := candles[len(candles)-1]
	if last.OpenTime+tf.Millis() > time.Now().UnixMilli() {
		return candles[:len(candles)-1]
	}
	return candles
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
