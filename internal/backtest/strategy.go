package backtest

import "quantra/internal/market"

// Strategy 是回测引擎驱动的策略。Init 在第一根 K 线之前调用，
// 返回错误会让回测直接失败；OnBar 在每个时间步调用一次。
type Strategy interface {
	Init(ctx *Context) error
	OnBar(ctx *Context, bars map[string]market.Candle)
}

// OrderNotifier 由需要订单状态回调的策略实现。
type OrderNotifier interface {
	NotifyOrder(order *Order)
}

// TradeNotifier 由需要平仓成交回调的策略实现，
// 只在成交产生非零已实现盈亏时触发。
type TradeNotifier interface {
	NotifyTrade(trade *Trade)
}

// Loader 把策略描述解析为可执行的策略实例。
type Loader interface {
	Load(source []byte) (Strategy, error)
}
