package backtest

import (
	"encoding/json"
	"fmt"
	"math"
)

// Config 是一次回测的不可变参数。
type Config struct {
	InitialCapital float64 `json:"initial_capital"`
	CommissionRate float64 `json:"commission_rate"`
	Slippage       float64 `json:"slippage"`
}

// DefaultConfig 返回与线上默认一致的参数。
func DefaultConfig() Config {
	return Config{
		InitialCapital: 100000,
		CommissionRate: 0.001,
		Slippage:       0.0005,
	}
}

// Validate 做运行前的参数检查，失败即拒绝启动。
func (c Config) Validate() error {
	if c.InitialCapital <= 0 {
		return fmt.Errorf("初始资金必须大于 0，收到: %v", c.InitialCapital)
	}
	if c.InitialCapital > 1e12 {
		return fmt.Errorf("初始资金超过上限 1e12，收到: %v", c.InitialCapital)
	}
	if c.CommissionRate < 0 || c.CommissionRate > 0.1 {
		return fmt.Errorf("手续费率需在 [0, 0.1] 区间，收到: %v", c.CommissionRate)
	}
	if c.Slippage < 0 || c.Slippage > 0.1 {
		return fmt.Errorf("滑点需在 [0, 0.1] 区间，收到: %v", c.Slippage)
	}
	return nil
}

// EquityPoint 是净值曲线上的一个采样点。
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Equity    float64 `json:"equity"`
}

// LogEntry 记录单根 K 线处理完成后的快照，用于调试与复盘。
type LogEntry struct {
	Timestamp  int64              `json:"timestamp"`
	Bars       map[string]BarData `json:"bars"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Signals    []string           `json:"signals,omitempty"`
	Orders     []OrderEvent       `json:"orders,omitempty"`
	Positions  map[string]float64 `json:"positions,omitempty"`
	Equity     float64            `json:"equity"`
	Note       string             `json:"note,omitempty"`
}

// BarData 是日志条目里的精简 K 线。
type BarData struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// OrderEvent 是日志条目里的订单事件摘要。
type OrderEvent struct {
	ID       string      `json:"id"`
	Symbol   string      `json:"symbol"`
	Side     OrderSide   `json:"side"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"`
	Status   OrderStatus `json:"status"`
	Reason   string      `json:"reason,omitempty"`
}

// Result 是一次回测的全部输出。
type Result struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	SortinoRatio     float64 `json:"sortino_ratio"`
	CalmarRatio      float64 `json:"calmar_ratio"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	TotalTrades      int     `json:"total_trades"`

	EquityCurve []EquityPoint `json:"equity_curve"`
	Trades      []Trade       `json:"trades"`
	Symbols     []string      `json:"symbols"`
	Logs        []LogEntry    `json:"logs,omitempty"`
}

// MarshalJSON 把非有限的盈亏比编码为 null。
// 一笔亏损都没有时盈亏比为 +Inf，JSON 表达不了这个值，
// 直接编码会让整个结果序列化失败。
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		alias
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: alias(r)}
	if !math.IsInf(r.ProfitFactor, 0) && !math.IsNaN(r.ProfitFactor) {
		pf := r.ProfitFactor
		out.ProfitFactor = &pf
	}
	return json.Marshal(out)
}
