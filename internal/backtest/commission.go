package backtest

import "github.com/shopspring/decimal"

// CommissionScheme 计算一笔成交的手续费。
type CommissionScheme interface {
	Calculate(price, quantity float64, maker bool) float64
}

// PercentCommission 按成交额比例收费，支持 maker/taker 差异化费率与最低费用。
type PercentCommission struct {
	MakerRate float64
	TakerRate float64
	MinFee    float64
}

// NewPercentCommission 按统一费率构建，maker 与 taker 一致。
func NewPercentCommission(rate float64) *PercentCommission {
	return &PercentCommission{MakerRate: rate, TakerRate: rate}
}

// Calculate 手续费 = max(成交额 × 费率, 最低费用)。
// 用 decimal 做中间计算，避免长回测里费用累计的浮点漂移。
func (c *PercentCommission) Calculate(price, quantity float64, maker bool) float64 {
	rate := c.TakerRate
	if maker {
		rate = c.MakerRate
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity).Abs())
	fee := notional.Mul(decimal.NewFromFloat(rate))
	minFee := decimal.NewFromFloat(c.MinFee)
	if fee.LessThan(minFee) {
		fee = minFee
	}
	out, _ := fee.Float64()
	return out
}

// FixedCommission 每笔固定费用，与成交额无关。
type FixedCommission struct {
	Fee float64
}

func (c *FixedCommission) Calculate(price, quantity float64, maker bool) float64 {
	return c.Fee
}

// CommissionManager 按交易对路由费率方案，未配置的走默认方案。
type CommissionManager struct {
	def     CommissionScheme
	schemes map[string]CommissionScheme
}

func NewCommissionManager(def CommissionScheme) *CommissionManager {
	return &CommissionManager{
		def:     def,
		schemes: make(map[string]CommissionScheme),
	}
}

// SetScheme 为指定交易对设置独立费率。
func (m *CommissionManager) SetScheme(symbol string, scheme CommissionScheme) {
	m.schemes[symbol] = scheme
}

func (m *CommissionManager) Calculate(symbol string, price, quantity float64, maker bool) float64 {
	if scheme, ok := m.schemes[symbol]; ok {
		return scheme.Calculate(price, quantity, maker)
	}
	if m.def == nil {
		return 0
	}
	return m.def.Calculate(price, quantity, maker)
}
