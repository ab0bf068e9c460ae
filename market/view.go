package market

import (
	"sync"
	"time"
)

// Level 表示盘口一档：价格与剩余数量。
type Level struct {
	Price float64
	Size  float64
}

// View is an immutable copy of the current market state, handed to
// strategies for one quoting cycle. Depth is ordered best-first and may
// contain zero-size levels (cancelled orders linger on the feed); best-of-book
// accessors skip them.
type View struct {
	Bids []Level
	Asks []Level

	MarkPrice float64
	MarkTime  time.Time
	HasMark   bool

	LastBookUpdate time.Time
	TickSize       float64
}

// BestBid 返回第一个非零量买档。
func (v View) BestBid() (Level, bool) {
	return firstLive(v.Bids)
}

// BestAsk 返回第一个非零量卖档。
func (v View) BestAsk() (Level, bool) {
	return firstLive(v.Asks)
}

// Mid 返回盘口中间价；缺失任一侧或盘口交叉时第二个返回值为 false。
func (v View) Mid() (float64, bool) {
	bid, okB := v.BestBid()
	ask, okA := v.BestAsk()
	if !okB || !okA || ask.Price <= bid.Price {
		return 0, false
	}
	return 0.5 * (bid.Price + ask.Price), true
}

func firstLive(levels []Level) (Level, bool) {
	for _, l := range levels {
		if l.Size > 0 {
			return l, true
		}
	}
	return Level{}, false
}

// Book 聚合行情事件：全量盘口替换 + 标记价更新。
// 只有引擎主循环会写入；Snapshot 返回深拷贝供策略读取。
type Book struct {
	mu sync.RWMutex

	bids []Level
	asks []Level

	mark     float64
	markTime time.Time
	hasMark  bool

	lastBook time.Time
	hasBook  bool

	tickSize float64
}

func NewBook(tickSize float64) *Book {
	return &Book{tickSize: tickSize}
}

// ApplyBook 应用一次全量盘口替换（非增量）。序列缺口的检测与恢复由外部
// 传输层负责，这里不做补偿。
func (b *Book) ApplyBook(bids, asks []Level, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = append(b.bids[:0], bids...)
	b.asks = append(b.asks[:0], asks...)
	b.lastBook = now
	b.hasBook = true
}

// ApplyMark 更新标记价，保留接收时间供策略做新鲜度判断。
// Book 本身不做过期过滤。
func (b *Book) ApplyMark(price float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mark = price
	b.markTime = now
	b.hasMark = true
}

// Snapshot 返回当前市场视图的拷贝；收到首个盘口前返回 false。
func (b *Book) Snapshot() (View, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.hasBook {
		return View{}, false
	}
	v := View{
		Bids:           make([]Level, len(b.bids)),
		Asks:           make([]Level, len(b.asks)),
		MarkPrice:      b.mark,
		MarkTime:       b.markTime,
		HasMark:        b.hasMark,
		LastBookUpdate: b.lastBook,
		TickSize:       b.tickSize,
	}
	copy(v.Bids, b.bids)
	copy(v.Asks, b.asks)
	return v, true
}

// TickSize 返回该市场的最小价格步长。
func (b *Book) TickSize() float64 {
	return b.tickSize
}
