package market

// Candle 表示一根 K 线（OHLCV + 扩展统计字段）。
// OpenTime/CloseTime 均为毫秒时间戳，扩展字段可能为 0（取决于数据源）。
type Candle struct {
	Symbol        string  `json:"symbol,omitempty"`
	OpenTime      int64   `json:"open_time"`
	CloseTime     int64   `json:"close_time"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	QuoteVolume   float64 `json:"quote_volume,omitempty"`
	Trades        int64   `json:"trades,omitempty"`
	TakerBuyBase  float64 `json:"taker_buy_base,omitempty"`
	TakerBuyQuote float64 `json:"taker_buy_quote,omitempty"`
}

// Timestamp 返回 K 线开盘时间，回测主时间轴以开盘时间对齐。
func (c Candle) Timestamp() int64 {
	return c.OpenTime
}
