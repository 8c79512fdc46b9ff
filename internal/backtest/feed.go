package backtest

import (
	"sort"

	"quantra/internal/market"
)

// Feed 按时间顺序逐步吐出各交易对的 K 线快照。
// 一次 Next 对应引擎的一个时间步，快照里的 K 线时间戳已对齐。
type Feed interface {
	Next() (map[string]market.Candle, bool)
	Symbols() []string
	Len() int
	Reset()
}

// TimeframeBarSource 暴露按高周期聚合出的已收盘 K 线，
// 由引擎转发给策略查询。
type TimeframeBarSource interface {
	TimeframeBars(symbol string, timeframe market.Timeframe) []market.Candle
}

// NewFeed 根据交易对数量选择单源直通或多源对齐，
// 再按给定的高周期逐层包上聚合器。
func NewFeed(candles map[string][]market.Candle, higher ...market.Timeframe) Feed {
	var base Feed
	if len(candles) == 1 {
		for symbol, list := range candles {
			base = NewSingleFeed(symbol, list)
		}
	} else {
		base = NewMultiFeed(candles)
	}
	for _, tf := range higher {
		base = NewTimeframeFeed(base, tf)
	}
	return base
}

// SingleFeed 单交易对直通，不做任何对齐。
type SingleFeed struct {
	symbol  string
	candles []market.Candle
	cursor  int
}

func NewSingleFeed(symbol string, candles []market.Candle) *SingleFeed {
	return &SingleFeed{symbol: symbol, candles: candles}
}

func (f *SingleFeed) Next() (map[string]market.Candle, bool) {
	if f.cursor >= len(f.candles) {
		return nil, false
	}
	c := f.candles[f.cursor]
	f.cursor++
	return map[string]market.Candle{f.symbol: c}, true
}

func (f *SingleFeed) Symbols() []string { return []string{f.symbol} }
func (f *SingleFeed) Len() int          { return len(f.candles) }
func (f *SingleFeed) Reset()            { f.cursor = 0 }

// MultiFeed 多交易对时间对齐：取全部时间戳的并集，
// 某一步缺数据的交易对用上一根已知 K 线前向填充。
// 在首根 K 线出现之前该交易对不会出现在快照里。
type MultiFeed struct {
	symbols    []string
	candles    map[string][]market.Candle
	timestamps []int64
	cursors    map[string]int
	last       map[string]market.Candle
	step       int
}

func NewMultiFeed(candles map[string][]market.Candle) *MultiFeed {
	symbols := make([]string, 0, len(candles))
	seen := make(map[int64]struct{})
	for symbol, list := range candles {
		symbols = append(symbols, symbol)
		for _, c := range list {
			seen[c.Timestamp()] = struct{}{}
		}
	}
	sort.Strings(symbols)
	timestamps := make([]int64, 0, len(seen))
	for ts := range seen {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	f := &MultiFeed{
		symbols:    symbols,
		candles:    candles,
		timestamps: timestamps,
	}
	f.Reset()
	return f
}

func (f *MultiFeed) Next() (map[string]market.Candle, bool) {
	if f.step >= len(f.timestamps) {
		return nil, false
	}
	ts := f.timestamps[f.step]
	f.step++

	snapshot := make(map[string]market.Candle, len(f.symbols))
	for _, symbol := range f.symbols {
		list := f.candles[symbol]
		cursor := f.cursors[symbol]
		for cursor < len(list) && list[cursor].Timestamp() <= ts {
			f.last[symbol] = list[cursor]
			cursor++
		}
		f.cursors[symbol] = cursor
		if c, ok := f.last[symbol]; ok {
			snapshot[symbol] = c
		}
	}
	if len(snapshot) == 0 {
		return f.Next()
	}
	return snapshot, true
}

func (f *MultiFeed) Symbols() []string { return f.symbols }
func (f *MultiFeed) Len() int          { return len(f.timestamps) }

func (f *MultiFeed) Reset() {
	f.step = 0
	f.cursors = make(map[string]int, len(f.symbols))
	f.last = make(map[string]market.Candle, len(f.symbols))
}

// TimeframeFeed 包装基础周期的 Feed，在推进过程中把基础 K 线
// 聚合成高周期 K 线。高周期 K 线只有在收盘之后才对外可见，
// 即 开盘时间 + 周期 <= 当前时间，杜绝未来数据。
type TimeframeFeed struct {
	base      Feed
	timeframe market.Timeframe

	completed map[string][]market.Candle
	forming   map[string]*market.Candle
	now       int64
}

func NewTimeframeFeed(base Feed, timeframe market.Timeframe) *TimeframeFeed {
	return &TimeframeFeed{
		base:      base,
		timeframe: timeframe,
		completed: make(map[string][]market.Candle),
		forming:   make(map[string]*market.Candle),
	}
}

func (f *TimeframeFeed) Next() (map[string]market.Candle, bool) {
	snapshot, ok := f.base.Next()
	if !ok {
		return nil, false
	}
	for symbol, c := range snapshot {
		f.aggregate(symbol, c)
		if c.Timestamp() > f.now {
			f.now = c.Timestamp()
		}
	}
	f.flush()
	return snapshot, true
}

// aggregate 把基础 K 线并入所属的高周期桶。
func (f *TimeframeFeed) aggregate(symbol string, c market.Candle) {
	interval := f.timeframe.Millis()
	bucket := c.Timestamp() / interval * interval

	forming := f.forming[symbol]
	if forming == nil || forming.OpenTime != bucket {
		if forming != nil {
			f.completed[symbol] = append(f.completed[symbol], *forming)
		}
		tf := c
		tf.OpenTime = bucket
		tf.CloseTime = bucket + interval - 1
		f.forming[symbol] = &tf
		return
	}
	if c.High > forming.High {
		forming.High = c.High
	}
	if c.Low < forming.Low {
		forming.Low = c.Low
	}
	forming.Close = c.Close
	forming.Volume += c.Volume
	forming.QuoteVolume += c.QuoteVolume
	forming.Trades += c.Trades
	forming.TakerBuyBase += c.TakerBuyBase
	forming.TakerBuyQuote += c.TakerBuyQuote
}

// flush 把已经收盘的在途桶移入完成列表。
func (f *TimeframeFeed) flush() {
	interval := f.timeframe.Millis()
	for symbol, forming := range f.forming {
		if forming != nil && forming.OpenTime+interval <= f.now {
			f.completed[symbol] = append(f.completed[symbol], *forming)
			f.forming[symbol] = nil
		}
	}
}

// Bars 返回某交易对当前可见的全部高周期 K 线。
func (f *TimeframeFeed) Bars(symbol string) []market.Candle {
	return f.completed[symbol]
}

// TimeframeBars 返回指定周期上已收盘的 K 线；
// 不是本层的周期时转给内层 Feed，支持多个高周期串联。
func (f *TimeframeFeed) TimeframeBars(symbol string, timeframe market.Timeframe) []market.Candle {
	if timeframe.Key == f.timeframe.Key {
		return f.completed[symbol]
	}
	if src, ok := f.base.(TimeframeBarSource); ok {
		return src.TimeframeBars(symbol, timeframe)
	}
	return nil
}

func (f *TimeframeFeed) Symbols() []string { return f.base.Symbols() }
func (f *TimeframeFeed) Len() int          { return f.base.Len() }

func (f *TimeframeFeed) Reset() {
	f.base.Reset()
	f.completed = make(map[string][]market.Candle)
	f.forming = make(map[string]*market.Candle)
	f.now = 0
}
