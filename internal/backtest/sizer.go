package backtest

// Sizer 根据账户状态决定下单数量，返回 0 表示放弃本次信号。
type Sizer interface {
	Size(symbol string, price, cash, equity float64) float64
}

// FixedSizer 每次下固定数量。
type FixedSizer struct {
	Stake float64
}

func (s *FixedSizer) Size(symbol string, price, cash, equity float64) float64 {
	return s.Stake
}

// PercentSizer 用现金的固定比例买入。
type PercentSizer struct {
	Percent float64
}

func (s *PercentSizer) Size(symbol string, price, cash, equity float64) float64 {
	if price <= 0 {
		return 0
	}
	return cash * s.Percent / price
}

// AllInSizer 全仓买入。
type AllInSizer struct{}

func (s *AllInSizer) Size(symbol string, price, cash, equity float64) float64 {
	if price <= 0 {
		return 0
	}
	return cash / price
}

// ATRProvider 提供用于风险定仓的最新 ATR，未就绪时 ok 为 false。
type ATRProvider interface {
	ATR(symbol string) (value float64, ok bool)
}

// RiskSizer 按账户风险预算定仓：数量 = 权益 × 风险比例 / (ATR × 倍数)。
// ATR 未就绪时退回固定数量，保证策略在暖机期也能下单。
type RiskSizer struct {
	RiskPercent   float64
	ATRMultiplier float64
	FallbackStake float64
	Provider      ATRProvider
}

func (s *RiskSizer) Size(symbol string, price, cash, equity float64) float64 {
	if s.Provider != nil {
		if atr, ok := s.Provider.ATR(symbol); ok && atr > 0 {
			mult := s.ATRMultiplier
			if mult <= 0 {
				mult = 1
			}
			return equity * s.RiskPercent / (atr * mult)
		}
	}
	return s.FallbackStake
}
