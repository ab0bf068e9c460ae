package gateway

import (
	"time"

	"quote-engine-go/market"
)

// Event 是行情/账户通道投递给引擎循环的事件。
type Event interface{ isEvent() }

// Connected 握手完成。
type Connected struct{}

// BookUpdate 全量盘口替换。
type BookUpdate struct {
	MarketID int
	Bids     []market.Level
	Asks     []market.Level
	At       time.Time
}

// MarkUpdate 标记价更新，At 为接收时间。
type MarkUpdate struct {
	MarketID int
	Price    float64
	At       time.Time
}

// PositionUpdate 账户净仓位更新（带符号）。
type PositionUpdate struct {
	MarketID int
	Signed   float64
}

// FillUpdate 自家订单成交增量。SignedQty 买为正、卖为负。
type FillUpdate struct {
	MarketID  int
	SignedQty float64
	Price     float64
}

// Closed 连接关闭。
type Closed struct {
	Reason string
}

func (Connected) isEvent()      {}
func (BookUpdate) isEvent()     {}
func (MarkUpdate) isEvent()     {}
func (PositionUpdate) isEvent() {}
func (FillUpdate) isEvent()     {}
func (Closed) isEvent()         {}
