package backtest

import "quantra/internal/market"

// Recorder 按 K 线逐条收集回测过程日志：行情快照、指标、信号、
// 订单事件和持仓。一根 K 线对应一个条目，Commit 后进入下一条。
type Recorder struct {
	enabled bool
	entries []LogEntry
	current *LogEntry
}

func NewRecorder(enabled bool) *Recorder {
	return &Recorder{enabled: enabled}
}

// LogBar 开启当前 K 线的新条目。
func (r *Recorder) LogBar(timestamp int64, bars map[string]market.Candle, equity float64, positions map[string]float64) {
	if !r.enabled {
		return
	}
	entry := LogEntry{
		Timestamp: timestamp,
		Bars:      make(map[string]BarData, len(bars)),
		Equity:    equity,
		Positions: positions,
	}
	for symbol, c := range bars {
		entry.Bars[symbol] = BarData{
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	r.current = &entry
}

func (r *Recorder) AddIndicator(name string, value float64) {
	if r.current == nil {
		return
	}
	if r.current.Indicators == nil {
		r.current.Indicators = make(map[string]float64)
	}
	r.current.Indicators[name] = value
}

func (r *Recorder) AddSignal(signal string) {
	if r.current == nil {
		return
	}
	r.current.Signals = append(r.current.Signals, signal)
}

func (r *Recorder) AddOrder(order *Order) {
	if r.current == nil {
		return
	}
	r.current.Orders = append(r.current.Orders, OrderEvent{
		ID:       order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: order.Quantity,
		Price:    order.FilledAvgPrice,
		Status:   order.Status,
		Reason:   order.Reason,
	})
}

func (r *Recorder) AddNote(note string) {
	if r.current == nil {
		return
	}
	r.current.Note = note
}

// Commit 提交当前条目，未开启条目时为空操作。
func (r *Recorder) Commit() {
	if r.current == nil {
		return
	}
	r.entries = append(r.entries, *r.current)
	r.current = nil
}

func (r *Recorder) Entries() []LogEntry { return r.entries }
