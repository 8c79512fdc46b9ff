package backtest

import (
	"fmt"
	"math"
	"sort"

	"quantra/internal/logger"
	"quantra/internal/market"
)

// Broker 负责资金、持仓和订单撮合，与引擎解耦。
// 订单被拒绝通过状态与原因表达，不作为 error 返回。
// Broker 只在引擎的单个事件循环里使用，不做并发保护。
type Broker struct {
	config Config

	cash       float64
	positions  map[string]*Position
	orders     []*Order
	ordersByID map[string]*Order
	active     []*Order
	pending    []*Order // 等待父订单成交的子订单

	commission *CommissionManager
	slippage   SlippageModel
	sizer      Sizer

	lastPrice    map[string]float64
	tradeCounter int

	onOrder func(*Order)
	onTrade func(*Trade)
}

func NewBroker(config Config) *Broker {
	return &Broker{
		config:     config,
		cash:       config.InitialCapital,
		positions:  make(map[string]*Position),
		ordersByID: make(map[string]*Order),
		commission: NewCommissionManager(NewPercentCommission(config.CommissionRate)),
		slippage:   &PercentSlippage{Rate: config.Slippage},
		sizer:      &FixedSizer{Stake: 1},
		lastPrice:  make(map[string]float64),
	}
}

// SetCallbacks 注入订单与成交通知，由引擎在启动时设置。
func (b *Broker) SetCallbacks(onOrder func(*Order), onTrade func(*Trade)) {
	b.onOrder = onOrder
	b.onTrade = onTrade
}

// SetCash 覆盖初始资金，只应在策略 Init 阶段调用。
func (b *Broker) SetCash(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("初始资金必须大于 0，收到: %v", amount)
	}
	b.cash = amount
	return nil
}

func (b *Broker) SetCommission(m *CommissionManager) { b.commission = m }
func (b *Broker) SetSlippage(m SlippageModel)        { b.slippage = m }
func (b *Broker) SetSizer(s Sizer) {
	if s != nil {
		b.sizer = s
	}
}

func (b *Broker) Cash() float64    { return b.cash }
func (b *Broker) Orders() []*Order { return b.orders }
func (b *Broker) ActiveOrders() []*Order {
	out := make([]*Order, len(b.active))
	copy(out, b.active)
	return out
}

func (b *Broker) Order(id string) *Order { return b.ordersByID[id] }

// Position 返回非零持仓，无持仓时返回 nil。
func (b *Broker) Position(symbol string) *Position {
	pos := b.positions[symbol]
	if pos != nil && pos.Quantity != 0 {
		return pos
	}
	return nil
}

func (b *Broker) Positions() map[string]*Position { return b.positions }

// Value 计算账户总价值：现金加各持仓按给定价格的市值。
func (b *Broker) Value(prices map[string]float64) float64 {
	value := b.cash
	// 浮点累加按交易对字典序执行，保证逐次估值可复现
	symbols := make([]string, 0, len(b.positions))
	for symbol := range b.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		pos := b.positions[symbol]
		if pos.Quantity == 0 {
			continue
		}
		if price, ok := prices[symbol]; ok {
			value += pos.MarketValue(price)
		}
	}
	return value
}

// Equity 用撮合时记录的最新收盘价估值。
func (b *Broker) Equity() float64 { return b.Value(b.lastPrice) }

// Size 用当前 Sizer 计算下单数量。
func (b *Broker) Size(symbol string, price float64) float64 {
	return b.sizer.Size(symbol, price, b.cash, b.Equity())
}

// Submit 提交订单：CREATED -> SUBMITTED，预检通过转 ACCEPTED，否则 REJECTED。
func (b *Broker) Submit(order *Order) *Order {
	order.Status = StatusSubmitted
	b.orders = append(b.orders, order)
	b.ordersByID[order.ID] = order

	if reason := b.validate(order); reason != "" {
		order.Status = StatusRejected
		order.Reason = reason
		logger.Warnf("订单被拒绝: %s - %s", order.ID, reason)
		b.notifyOrder(order)
		return order
	}

	order.Status = StatusAccepted
	b.active = append(b.active, order)
	logger.Debugf("订单已接受: %s %s %s %v", order.ID, order.Side, order.Symbol, order.Quantity)
	return order
}

// AddChildOrder 登记子订单，父订单成交前保持休眠。
func (b *Broker) AddChildOrder(order *Order) *Order {
	order.Status = StatusSubmitted
	b.orders = append(b.orders, order)
	b.ordersByID[order.ID] = order
	b.pending = append(b.pending, order)
	logger.Debugf("子订单已登记: %s 父订单 %s", order.ID, order.ParentID)
	return order
}

// Cancel 取消活跃订单，已终态的订单返回 false。
func (b *Broker) Cancel(orderID string) bool {
	order := b.ordersByID[orderID]
	if order == nil {
		return false
	}
	return b.cancel(order, "用户取消")
}

func (b *Broker) cancel(order *Order, reason string) bool {
	removed := b.removeActive(order)
	if !removed {
		if !b.removePending(order) {
			return false
		}
	}
	order.Status = StatusCanceled
	order.Reason = reason
	b.notifyOrder(order)
	logger.Debugf("订单已取消: %s - %s", order.ID, reason)
	return true
}

// Process 在每根 K 线上检查指定交易对的全部挂单。
// 成交顺序内的 OCO 取消立即生效，子订单激活在撮合循环结束后进行，
// 激活当根不参与撮合。
func (b *Broker) Process(symbol string, bar market.Candle) []*Trade {
	b.lastPrice[symbol] = bar.Close

	var trades []*Trade
	var filled []*Order

	snapshot := make([]*Order, len(b.active))
	copy(snapshot, b.active)
	for _, order := range snapshot {
		if order.Symbol != symbol || order.Status != StatusAccepted {
			continue
		}
		fillPrice, ok := b.tryMatch(order, bar)
		if !ok {
			continue
		}
		trade := b.executeFill(order, fillPrice, bar.Timestamp(), bar.Volume)
		b.removeActive(order)
		if trade == nil {
			continue
		}
		trades = append(trades, trade)
		filled = append(filled, order)
		if order.OCOID != "" {
			if peer := b.ordersByID[order.OCOID]; peer != nil && !peer.Done() {
				b.cancel(peer, fmt.Sprintf("OCO 关联订单 %s 已成交", order.ID))
			}
		}
	}

	for _, parent := range filled {
		b.activateChildren(parent.ID)
	}
	return trades
}

// activateChildren 把父订单的子订单转入活跃列表。
func (b *Broker) activateChildren(parentID string) {
	remaining := b.pending[:0]
	for _, child := range b.pending {
		if child.ParentID != parentID {
			remaining = append(remaining, child)
			continue
		}
		child.Status = StatusAccepted
		b.active = append(b.active, child)
		b.notifyOrder(child)
		logger.Debugf("子订单已激活: %s", child.ID)
	}
	b.pending = remaining
}

// validate 做提交时的参数与资金预检，返回非空字符串表示拒绝原因。
func (b *Broker) validate(order *Order) string {
	if order.Quantity <= 0 {
		return fmt.Sprintf("订单数量必须大于 0，收到: %v", order.Quantity)
	}
	switch order.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Sprintf("未知的订单方向: %s", order.Side)
	}
	switch order.Type {
	case OrderMarket:
	case OrderLimit:
		if order.Price <= 0 {
			return "限价单必须指定限价"
		}
	case OrderStop:
		if order.Trigger <= 0 {
			return "止损单必须指定触发价"
		}
	case OrderStopLimit:
		if order.Trigger <= 0 || order.Price <= 0 {
			return "止损限价单必须同时指定触发价和限价"
		}
	case OrderStopTrail:
		if order.TrailAmount <= 0 && order.TrailPercent <= 0 {
			return "移动止损必须指定追踪金额或追踪比例"
		}
	default:
		return fmt.Sprintf("未知的订单类型: %s", order.Type)
	}

	// 资金预检：用限价或触发价估算成本，市价单无法预估直接放行。
	refPrice := order.Price
	if refPrice == 0 {
		refPrice = order.Trigger
	}
	if refPrice == 0 {
		return ""
	}
	cost := refPrice * order.Quantity
	fee := b.commission.Calculate(order.Symbol, refPrice, order.Quantity, false)
	if order.Side == SideBuy {
		if cost+fee > b.cash {
			return "资金不足"
		}
		return ""
	}
	if pos := b.positions[order.Symbol]; pos != nil && pos.Quantity > 0 {
		return ""
	}
	if cost+fee > b.cash {
		return "资金不足"
	}
	return ""
}

// tryMatch 判断订单在当前 K 线是否成交，返回成交价。
func (b *Broker) tryMatch(order *Order, bar market.Candle) (float64, bool) {
	switch order.Type {
	case OrderMarket:
		return b.slippage.Adjust(bar.Close, order.Side, order.Quantity, bar.Volume), true

	case OrderLimit:
		return matchLimit(order.Side, order.Price, bar)

	case OrderStop:
		if !order.Triggered {
			if stopTriggered(order.Side, order.Trigger, bar) {
				order.Triggered = true
				logger.Debugf("止损单已触发: %s @ %v", order.ID, order.Trigger)
			}
			// 触发当根不成交，下一根按市价撮合
			return 0, false
		}
		return b.slippage.Adjust(bar.Close, order.Side, order.Quantity, bar.Volume), true

	case OrderStopLimit:
		if !order.Triggered {
			if stopTriggered(order.Side, order.Trigger, bar) {
				order.Triggered = true
				logger.Debugf("止损限价单已触发: %s @ %v", order.ID, order.Trigger)
			}
			return 0, false
		}
		return matchLimit(order.Side, order.Price, bar)

	case OrderStopTrail:
		b.updateTrail(order, bar)
		if order.Side == SideSell {
			if bar.Low <= order.Trigger {
				return b.slippage.Adjust(bar.Close, order.Side, order.Quantity, bar.Volume), true
			}
		} else {
			if bar.High >= order.Trigger {
				return b.slippage.Adjust(bar.Close, order.Side, order.Quantity, bar.Volume), true
			}
		}
	}
	return 0, false
}

// matchLimit 限价撮合：价格优于限价时按开盘价成交。
func matchLimit(side OrderSide, limit float64, bar market.Candle) (float64, bool) {
	if side == SideBuy {
		if bar.Low <= limit {
			return math.Min(limit, bar.Open), true
		}
		return 0, false
	}
	if bar.High >= limit {
		return math.Max(limit, bar.Open), true
	}
	return 0, false
}

func stopTriggered(side OrderSide, trigger float64, bar market.Candle) bool {
	if trigger <= 0 {
		return false
	}
	if side == SideBuy {
		return bar.High >= trigger
	}
	return bar.Low <= trigger
}

// updateTrail 先用本根行情刷新极值，再据此重算触发价。
// 卖出止损只追踪新高，触发价只上移；买入止损只追踪新低，触发价只下移。
func (b *Broker) updateTrail(order *Order, bar market.Candle) {
	if order.Side == SideSell {
		if bar.High > order.HighestPrice {
			order.HighestPrice = bar.High
		}
		if order.TrailAmount > 0 {
			order.Trigger = order.HighestPrice - order.TrailAmount
		} else {
			order.Trigger = order.HighestPrice * (1 - order.TrailPercent)
		}
		return
	}
	if bar.Low < order.LowestPrice {
		order.LowestPrice = bar.Low
	}
	if order.TrailAmount > 0 {
		order.Trigger = order.LowestPrice + order.TrailAmount
	} else {
		order.Trigger = order.LowestPrice * (1 + order.TrailPercent)
	}
}

// executeFill 执行成交：扣减资金、更新持仓、生成成交记录。
// 成交时资金不足的买单在此转为 REJECTED。
func (b *Broker) executeFill(order *Order, fillPrice float64, timestamp int64, barVolume float64) *Trade {
	fee := b.commission.Calculate(order.Symbol, fillPrice, order.Quantity, order.Type == OrderLimit)

	if order.Side == SideBuy {
		cost := fillPrice*order.Quantity + fee
		if cost > b.cash {
			order.Status = StatusRejected
			order.Reason = "资金不足"
			b.notifyOrder(order)
			return nil
		}
		b.cash -= cost
	} else {
		pos := b.positions[order.Symbol]
		if pos == nil || pos.Quantity <= 0 {
			// 开空需要占用等额保证金
			margin := fillPrice*order.Quantity + fee
			if margin > b.cash {
				order.Status = StatusRejected
				order.Reason = "资金不足"
				b.notifyOrder(order)
				return nil
			}
		}
		b.cash += fillPrice*order.Quantity - fee
	}

	pos := b.positions[order.Symbol]
	if pos == nil {
		pos = &Position{Symbol: order.Symbol}
		b.positions[order.Symbol] = pos
	}
	delta := order.Quantity
	if order.Side == SideSell {
		delta = -delta
	}
	pnl := pos.Apply(delta, fillPrice)

	order.Status = StatusFilled
	order.FilledAvgPrice = fillPrice
	order.FilledQuantity = order.Quantity
	order.Fee = fee

	b.tradeCounter++
	trade := &Trade{
		ID:        fmt.Sprintf("T%06d", b.tradeCounter),
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Price:     fillPrice,
		Quantity:  order.Quantity,
		Fee:       fee,
		Timestamp: timestamp,
		PnL:       pnl,
	}

	b.notifyOrder(order)
	b.notifyTrade(trade)
	logger.Debugf("成交: %s %s %v @ %.2f, PnL: %.2f", order.Symbol, order.Side, order.Quantity, fillPrice, pnl)
	return trade
}

func (b *Broker) removeActive(order *Order) bool {
	for i, o := range b.active {
		if o == order {
			b.active = append(b.active[:i], b.active[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Broker) removePending(order *Order) bool {
	for i, o := range b.pending {
		if o == order {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Broker) notifyOrder(order *Order) {
	if b.onOrder == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warnf("订单回调异常: %v", r)
			}
		}()
		b.onOrder(order)
	}()
}

func (b *Broker) notifyTrade(trade *Trade) {
	if b.onTrade == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warnf("成交回调异常: %v", r)
			}
		}()
		b.onTrade(trade)
	}()
}
