// Package exec 负责把报价动作签名并经交易所通道提交：单笔或批量，
// 逐笔回报结果与延迟分解。
package exec

import (
	"time"

	"quote-engine-go/gateway"
)

// Outcome 是一次提交动作的类型化结局。
type Outcome string

const (
	OutcomeAccepted      Outcome = "ACCEPTED"
	OutcomeRejected      Outcome = "REJECTED"       // 本次尝试终结；本周期不重试
	OutcomeUnknown       Outcome = "UNKNOWN"        // 确认超时；需对账后再动作
	OutcomeTransient     Outcome = "TRANSIENT"      // 网络瞬断；下周期重估
	OutcomeNonceMismatch Outcome = "NONCE_MISMATCH" // 重取重试一次后仍不一致
)

// Terminal 判断该结局是否终结了这次尝试（Unknown 不是失败，但也不是终结）。
func (o Outcome) Terminal() bool {
	return o == OutcomeAccepted || o == OutcomeRejected || o == OutcomeNonceMismatch
}

// Action 是一笔待签名提交的动作。CancelAll 动作忽略 Order 字段。
type Action struct {
	TxType uint8
	Order  gateway.OrderParams
}

// NewOrderAction 构造下单动作。
func NewOrderAction(p gateway.OrderParams) Action {
	return Action{TxType: gateway.TxTypeCreateOrder, Order: p}
}

// NewCancelAllAction 构造全量撤单动作。
func NewCancelAllAction() Action {
	return Action{TxType: gateway.TxTypeCancelAllOrders}
}

// Result 是单笔动作的提交结果，逐笔独立。
type Result struct {
	ClientOrderID int64
	TxType        uint8
	Outcome       Outcome
	Reason        string

	SignLatency    time.Duration
	NetworkLatency time.Duration
	TotalLatency   time.Duration
}

// Accepted 便捷判断。
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeAccepted
}
