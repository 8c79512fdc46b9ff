package backtest

// SlippageModel 在理论成交价上叠加不利偏移，买单抬价、卖单压价。
type SlippageModel interface {
	Adjust(price float64, side OrderSide, quantity, barVolume float64) float64
}

// FixedSlippage 固定金额偏移。
type FixedSlippage struct {
	Amount float64
}

func (s *FixedSlippage) Adjust(price float64, side OrderSide, quantity, barVolume float64) float64 {
	if side == SideBuy {
		return price + s.Amount
	}
	return price - s.Amount
}

// PercentSlippage 按价格比例偏移。
type PercentSlippage struct {
	Rate float64
}

func (s *PercentSlippage) Adjust(price float64, side OrderSide, quantity, barVolume float64) float64 {
	if side == SideBuy {
		return price * (1 + s.Rate)
	}
	return price * (1 - s.Rate)
}

// VolumeImpactSlippage 按订单量占当根成交量的比例放大冲击，
// 基础比例之外再加 impact × 占比，模拟吃深度的成本。
type VolumeImpactSlippage struct {
	BaseRate float64
	Impact   float64
}

func (s *VolumeImpactSlippage) Adjust(price float64, side OrderSide, quantity, barVolume float64) float64 {
	rate := s.BaseRate
	if barVolume > 0 {
		rate += s.Impact * (quantity / barVolume)
	}
	if side == SideBuy {
		return price * (1 + rate)
	}
	return price * (1 - rate)
}
