package backtest

import "math"

// 小于该值的持仓数量视为 0，避免浮点残渣。
const positionEpsilon = 1e-10

// Position 表示单个 symbol 的净持仓。
// Quantity 为正表示多头、为负表示空头；仅允许通过 Apply 变更。
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Apply 以成交价 price 变更 delta 数量（正买负卖），返回本次实现盈亏。
//
// 覆盖五种情形：新开仓、同向加仓（均价加权）、部分减仓（只对减掉的
// 部分实现盈亏，均价不变）、完全平仓（两字段归零）、反向开仓（先平旧
// 方向并实现盈亏，剩余部分按新价开仓）。
func (p *Position) Apply(delta, price float64) float64 {
	pnl := 0.0

	switch {
	case p.Quantity == 0:
		p.AvgPrice = price
		p.Quantity = delta
	case (p.Quantity > 0) == (delta > 0):
		// 同向加仓：均价按数量加权
		totalCost := math.Abs(p.Quantity)*p.AvgPrice + math.Abs(delta)*price
		p.Quantity += delta
		if math.Abs(p.Quantity) > positionEpsilon {
			p.AvgPrice = totalCost / math.Abs(p.Quantity)
		}
	default:
		closeQty := math.Min(math.Abs(p.Quantity), math.Abs(delta))
		if p.Quantity > 0 {
			pnl = closeQty * (price - p.AvgPrice)
		} else {
			pnl = closeQty * (p.AvgPrice - price)
		}
		p.Quantity += delta
		if math.Abs(delta) > closeQty {
			// 反向开仓：剩余数量按新价计
			p.AvgPrice = price
		}
	}

	if math.Abs(p.Quantity) < positionEpsilon {
		p.Quantity = 0
		p.AvgPrice = 0
	}
	return pnl
}

// UnrealizedPnL 按当前价计算浮动盈亏。
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Quantity == 0 {
		return 0
	}
	return p.Quantity * (price - p.AvgPrice)
}

// MarketValue 计算净值口径下的持仓市值。
//
// 多头返回 数量×现价；空头返回浮动盈亏 (均价-现价)×|数量|，因为开空
// 并未实际持有资产。下游回撤/净值指标均以该口径定义，保持原样。
func (p *Position) MarketValue(price float64) float64 {
	switch {
	case p.Quantity > 0:
		return p.Quantity * price
	case p.Quantity < 0:
		return math.Abs(p.Quantity) * (p.AvgPrice - price)
	}
	return 0
}
