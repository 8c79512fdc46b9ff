// Package source 定义历史行情数据源与批量拉取实现。
package source

import (
	"context"

	"quantra/internal/market"
)

// FetchRequest 是一次区间拉取请求。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
	Limit    int
}

// CandleSource 按区间拉取历史 K 线。
type CandleSource interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
}
