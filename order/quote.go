package order

import "time"

// Side represents the quoting side.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// State represents the quote lifecycle.
type State string

const (
	StatePending    State = "PENDING"    // 已签名待确认
	StateResting    State = "RESTING"    // 已挂在盘口
	StateCancelling State = "CANCELLING" // 撤单已发出
	StateCancelled  State = "CANCELLED"  // 已撤销（终态）
	StateRejected   State = "REJECTED"   // 被拒绝（终态）
	StateUnknown    State = "UNKNOWN"    // 确认超时，待对账
)

// Quote holds one resting (or in-flight) quote. Owned exclusively by the
// engine loop; prices are tick-aligned at creation.
type Quote struct {
	Side          Side
	PriceTicks    int64
	Price         float64
	Size          float64
	ClientOrderID int64
	State         State
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
