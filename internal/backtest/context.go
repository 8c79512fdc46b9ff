package backtest

import (
	"fmt"
	"math"

	"quantra/internal/logger"
	"quantra/internal/market"
)

// Context 是策略可见的交易接口，由引擎在每次回调前维护好当前状态。
// 所有下单方法都立即返回订单对象，拒绝通过订单状态表达。
type Context struct {
	engine    *Engine
	initPhase bool
}

func (c *Context) broker() *Broker { return c.engine.broker }

// Timestamp 返回当前时间步的时间戳（毫秒）。
func (c *Context) Timestamp() int64 { return c.engine.currentTimestamp }

// ============ 下单 ============

// Buy 市价买入。
func (c *Context) Buy(symbol string, quantity float64) *Order {
	return c.submit(symbol, SideBuy, OrderMarket, quantity, 0, 0)
}

// Sell 市价卖出。
func (c *Context) Sell(symbol string, quantity float64) *Order {
	return c.submit(symbol, SideSell, OrderMarket, quantity, 0, 0)
}

// LimitOrder 限价单。
func (c *Context) LimitOrder(symbol string, side OrderSide, quantity, price float64) *Order {
	return c.submit(symbol, side, OrderLimit, quantity, price, 0)
}

// StopOrder 止损单，触发后下一根按市价成交。
func (c *Context) StopOrder(symbol string, side OrderSide, quantity, trigger float64) *Order {
	return c.submit(symbol, side, OrderStop, quantity, 0, trigger)
}

// StopLimitOrder 止损限价单。
func (c *Context) StopLimitOrder(symbol string, side OrderSide, quantity, trigger, price float64) *Order {
	return c.submit(symbol, side, OrderStopLimit, quantity, price, trigger)
}

func (c *Context) submit(symbol string, side OrderSide, typ OrderType, quantity, price, trigger float64) *Order {
	order := NewOrder(c.engine.nextOrderID(), symbol, side, typ, quantity, c.engine.currentTimestamp)
	order.Price = price
	order.Trigger = trigger
	c.broker().Submit(order)
	c.engine.trackSymbol(symbol)
	return order
}

// Close 平掉指定交易对的全部持仓，无持仓时返回 nil。
func (c *Context) Close(symbol string) *Order {
	pos := c.broker().Position(symbol)
	if pos == nil {
		return nil
	}
	if pos.Quantity > 0 {
		return c.Sell(symbol, pos.Quantity)
	}
	return c.Buy(symbol, -pos.Quantity)
}

// Cancel 取消挂单。
func (c *Context) Cancel(orderID string) bool {
	return c.broker().Cancel(orderID)
}

// TrailingStop 创建移动止损。quantity 为 0 时用当前持仓数量，
// 方向自动取持仓的反向；无持仓时返回 nil。
func (c *Context) TrailingStop(symbol string, quantity, trailAmount, trailPercent float64) *Order {
	side := SideSell
	if quantity <= 0 {
		pos := c.broker().Position(symbol)
		if pos == nil {
			logger.Warnf("移动止损: 无持仓 %s", symbol)
			return nil
		}
		quantity = math.Abs(pos.Quantity)
		if pos.Quantity < 0 {
			side = SideBuy
		}
	}
	order := NewOrder(c.engine.nextOrderID(), symbol, side, OrderStopTrail, quantity, c.engine.currentTimestamp)
	order.TrailAmount = trailAmount
	order.TrailPercent = trailPercent
	c.broker().Submit(order)
	c.engine.trackSymbol(symbol)
	return order
}

// BuyBracket 创建买入挂钩组：市价主单加 OCO 关联的止损与止盈子单，
// 子单在主单成交后才激活。quantity 为 0 时用 Sizer 计算。
func (c *Context) BuyBracket(symbol string, quantity, stopPrice, limitPrice float64) (main, stop, limit *Order) {
	return c.bracket(symbol, SideBuy, quantity, stopPrice, limitPrice)
}

// SellBracket 创建卖出挂钩组，子单方向为买入平空。
func (c *Context) SellBracket(symbol string, quantity, stopPrice, limitPrice float64) (main, stop, limit *Order) {
	return c.bracket(symbol, SideSell, quantity, stopPrice, limitPrice)
}

func (c *Context) bracket(symbol string, side OrderSide, quantity, stopPrice, limitPrice float64) (*Order, *Order, *Order) {
	if quantity <= 0 {
		price := c.engine.lastClose(symbol)
		quantity = c.broker().Size(symbol, price)
		if quantity <= 0 {
			quantity = 0.1
		}
	}

	main := c.submit(symbol, side, OrderMarket, quantity, 0, 0)
	childSide := side.Opposite()
	stopID := c.engine.nextOrderID()
	limitID := c.engine.nextOrderID()

	stop := NewOrder(stopID, symbol, childSide, OrderStop, quantity, c.engine.currentTimestamp)
	stop.Trigger = stopPrice
	stop.ParentID = main.ID
	stop.OCOID = limitID

	limit := NewOrder(limitID, symbol, childSide, OrderLimit, quantity, c.engine.currentTimestamp)
	limit.Price = limitPrice
	limit.ParentID = main.ID
	limit.OCOID = stopID

	c.broker().AddChildOrder(stop)
	c.broker().AddChildOrder(limit)
	logger.Debugf("创建挂钩订单: 主=%s, 止损=%s, 止盈=%s", main.ID, stopID, limitID)
	return main, stop, limit
}

// ============ 账户与配置 ============

// Position 返回非零持仓，无持仓时返回 nil。
func (c *Context) Position(symbol string) *Position { return c.broker().Position(symbol) }

// Cash 返回当前可用现金。
func (c *Context) Cash() float64 { return c.broker().Cash() }

// Equity 按当前快照收盘价估算账户净值。
func (c *Context) Equity() float64 { return c.engine.currentEquity() }

// SetSizer 设置仓位计算器。
func (c *Context) SetSizer(s Sizer) { c.broker().SetSizer(s) }

// Size 用当前 Sizer 计算下单数量。
func (c *Context) Size(symbol string) float64 {
	return c.broker().Size(symbol, c.engine.lastClose(symbol))
}

// SetCapital 覆盖初始资金，只允许在 Init 阶段调用。
func (c *Context) SetCapital(amount float64) error {
	if !c.initPhase {
		return fmt.Errorf("初始资金只能在策略 Init 阶段设置")
	}
	if err := c.broker().SetCash(amount); err != nil {
		return err
	}
	// 绩效基准同步更新，保证总收益相对新本金计算
	c.engine.config.InitialCapital = amount
	return nil
}

// ============ 历史数据 ============

// Bars 返回某交易对最近 lookback 根 K 线，含当前这根。
func (c *Context) Bars(symbol string, lookback int) []market.Candle {
	return c.engine.bars(symbol, lookback)
}

// Bar 返回相对当前的某根 K 线，offset 为 0 表示当前，-1 表示前一根。
func (c *Context) Bar(symbol string, offset int) (market.Candle, bool) {
	return c.engine.bar(symbol, offset)
}

// TimeframeBars 返回某交易对在高周期上已收盘的全部 K 线。
// 高周期 K 线只在其区间完全走完之后出现，不含在途数据；
// 周期未挂载或尚无完整 K 线时返回空。
func (c *Context) TimeframeBars(symbol, timeframe string) []market.Candle {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		logger.Warnf("高周期查询失败: %v", err)
		return nil
	}
	return c.engine.timeframeBars(symbol, tf)
}

// ============ 过程日志 ============

func (c *Context) LogIndicator(name string, value float64) { c.engine.recorder.AddIndicator(name, value) }
func (c *Context) LogSignal(signal string)                 { c.engine.recorder.AddSignal(signal) }
func (c *Context) LogNote(note string)                     { c.engine.recorder.AddNote(note) }
