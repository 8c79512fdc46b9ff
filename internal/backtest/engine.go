package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"quantra/internal/logger"
	"quantra/internal/market"
)

// ErrStrategyInit 标识策略初始化阶段的致命错误，回测直接终止。
var ErrStrategyInit = errors.New("策略初始化失败")

// ProgressFunc 在每根 K 线处理完后上报进度。
type ProgressFunc func(processed, total int, equity float64, timestamp int64)

// Engine 是事件驱动的回测引擎：逐根 K 线撮合挂单、更新净值、
// 驱动策略回调，最后汇总绩效。策略 Init 失败是致命错误，
// OnBar 内的 panic 被捕获并跳过该根继续。
type Engine struct {
	config   Config
	broker   *Broker
	recorder *Recorder

	strategy         Strategy
	feed             Feed
	trades           []*Trade
	equityCurve      []EquityPoint
	history          []map[string]market.Candle
	symbols          map[string]struct{}
	currentBars      map[string]market.Candle
	currentTimestamp int64
	orderCounter     int

	recordLogs bool
}

func NewEngine(config Config) *Engine {
	return &Engine{config: config, recordLogs: true}
}

// SetRecordLogs 控制是否收集逐 K 线过程日志。
func (e *Engine) SetRecordLogs(enabled bool) { e.recordLogs = enabled }

func (e *Engine) reset() {
	e.broker = NewBroker(e.config)
	e.recorder = NewRecorder(e.recordLogs)
	e.feed = nil
	e.trades = nil
	e.equityCurve = nil
	e.history = nil
	e.symbols = make(map[string]struct{})
	e.currentBars = nil
	e.currentTimestamp = 0
	e.orderCounter = 0
}

// Broker 暴露给外部做结果检查，回测运行期间不应并发访问。
func (e *Engine) Broker() *Broker { return e.broker }

// Run 执行回测。空数据源直接返回零值结果；
// ctx 取消时在 K 线边界停止并返回已取消错误。
func (e *Engine) Run(ctx context.Context, strategy Strategy, feed Feed, onProgress ProgressFunc) (Result, error) {
	e.reset()

	if feed == nil || feed.Len() == 0 {
		logger.Warnf("回测数据为空")
		return Analyze(e.config.InitialCapital, nil, nil), nil
	}
	if strategy == nil {
		return Result{}, fmt.Errorf("%w: 策略为空", ErrStrategyInit)
	}
	e.strategy = strategy
	e.feed = feed
	e.broker.SetCallbacks(e.onOrderUpdate, nil)

	initCtx := &Context{engine: e, initPhase: true}
	if err := strategy.Init(initCtx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStrategyInit, err)
	}

	barCtx := &Context{engine: e}
	total := feed.Len()
	processed := 0

	for {
		if err := ctx.Err(); err != nil {
			logger.Warnf("回测在第 %d/%d 根被取消", processed, total)
			return e.finish(feed), err
		}
		bars, ok := feed.Next()
		if !ok {
			break
		}
		processed++

		// 当前时间取快照内各 K 线的最大时间戳
		e.currentBars = bars
		symbols := make([]string, 0, len(bars))
		for symbol, bar := range bars {
			symbols = append(symbols, symbol)
			e.symbols[symbol] = struct{}{}
			if ts := bar.Timestamp(); ts > e.currentTimestamp {
				e.currentTimestamp = ts
			}
		}
		sort.Strings(symbols)
		e.history = append(e.history, bars)

		// 撮合按交易对字典序推进，现金受限时结果也可复现
		for _, symbol := range symbols {
			for _, trade := range e.broker.Process(symbol, bars[symbol]) {
				e.trades = append(e.trades, trade)
				e.onTradeFilled(trade)
			}
		}

		equity := e.currentEquity()
		e.equityCurve = append(e.equityCurve, EquityPoint{
			Timestamp: e.currentTimestamp,
			Equity:    equity,
		})
		e.recorder.LogBar(e.currentTimestamp, bars, equity, e.positionQuantities())

		if onProgress != nil {
			onProgress(processed, total, equity, e.currentTimestamp)
		}

		e.safeOnBar(barCtx, bars)
		e.recorder.Commit()
	}

	return e.finish(feed), nil
}

// finish 汇总绩效并附加交易对与过程日志。
func (e *Engine) finish(feed Feed) Result {
	result := Analyze(e.config.InitialCapital, e.equityCurve, e.trades)
	for symbol := range e.symbols {
		result.Symbols = append(result.Symbols, symbol)
	}
	sort.Strings(result.Symbols)
	if len(result.Symbols) == 0 && feed != nil {
		result.Symbols = feed.Symbols()
	}
	result.Logs = e.recorder.Entries()
	return result
}

// safeOnBar 捕获策略回调里的 panic，坏掉的一根不终止整个回测。
func (e *Engine) safeOnBar(ctx *Context, bars map[string]market.Candle) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("策略执行失败: %v", r)
		}
	}()
	e.strategy.OnBar(ctx, bars)
}

// onOrderUpdate 把终态订单转给策略回调并写入过程日志。
func (e *Engine) onOrderUpdate(order *Order) {
	if notifier, ok := e.strategy.(OrderNotifier); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warnf("订单通知回调异常: %v", r)
				}
			}()
			notifier.NotifyOrder(order)
		}()
	}
	e.recorder.AddOrder(order)
}

func (e *Engine) onTradeFilled(trade *Trade) {
	if trade.PnL == 0 {
		return
	}
	if notifier, ok := e.strategy.(TradeNotifier); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Warnf("成交通知回调异常: %v", r)
				}
			}()
			notifier.NotifyTrade(trade)
		}()
	}
}

// currentEquity 按当前快照的收盘价估值，无快照时返回现金。
func (e *Engine) currentEquity() float64 {
	if len(e.currentBars) == 0 {
		return e.broker.Cash()
	}
	prices := make(map[string]float64, len(e.currentBars))
	for symbol, bar := range e.currentBars {
		prices[symbol] = bar.Close
	}
	return e.broker.Value(prices)
}

func (e *Engine) positionQuantities() map[string]float64 {
	out := make(map[string]float64)
	for symbol, pos := range e.broker.Positions() {
		if pos.Quantity != 0 {
			out[symbol] = pos.Quantity
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (e *Engine) nextOrderID() string {
	e.orderCounter++
	return fmt.Sprintf("O%06d", e.orderCounter)
}

func (e *Engine) trackSymbol(symbol string) {
	e.symbols[symbol] = struct{}{}
}

func (e *Engine) lastClose(symbol string) float64 {
	if bar, ok := e.currentBars[symbol]; ok {
		return bar.Close
	}
	return 0
}

// bars 返回某交易对最近 lookback 根 K 线。
func (e *Engine) bars(symbol string, lookback int) []market.Candle {
	if lookback <= 0 || lookback > len(e.history) {
		lookback = len(e.history)
	}
	out := make([]market.Candle, 0, lookback)
	for _, snapshot := range e.history[len(e.history)-lookback:] {
		if bar, ok := snapshot[symbol]; ok {
			out = append(out, bar)
		}
	}
	return out
}

// timeframeBars 从数据源取已收盘的高周期 K 线，未挂载该周期时返回 nil。
func (e *Engine) timeframeBars(symbol string, tf market.Timeframe) []market.Candle {
	src, ok := e.feed.(TimeframeBarSource)
	if !ok {
		return nil
	}
	return src.TimeframeBars(symbol, tf)
}

func (e *Engine) bar(symbol string, offset int) (market.Candle, bool) {
	idx := len(e.history) - 1 + offset
	if idx < 0 || idx >= len(e.history) {
		return market.Candle{}, false
	}
	bar, ok := e.history[idx][symbol]
	return bar, ok
}
