// Package gateway 定义核心与交易所之间的边界：签名、传输、权威 nonce 与
// 在途订单查询都是外部协作者，核心只依赖这里的接口。
package gateway

import (
	"context"
	"errors"
	"time"
)

// 交易类型常量（与交易所协议一致）
const (
	TxTypeCreateOrder     uint8 = 14
	TxTypeCancelOrder     uint8 = 15
	TxTypeCancelAllOrders uint8 = 16
	TxTypeModifyOrder     uint8 = 17
)

// 订单 time-in-force
const (
	TimeInForceIOC      = 0
	TimeInForceGTT      = 1
	TimeInForcePostOnly = 2
)

// OrderParams 是签名所需的订单参数；价格与数量均为整数刻度。
type OrderParams struct {
	MarketID      int
	ClientOrderID int64
	IsAsk         bool
	PriceTicks    int64
	BaseQty       int64
	TimeInForce   int
	ReduceOnly    bool
}

// Signed 是一笔已签名、可直接发送的交易。
type Signed struct {
	TxType uint8
	TxInfo string // 签名器产出的 JSON
}

// Ack 是交易所对单笔交易的回应。
type Ack struct {
	Accepted      bool
	NonceMismatch bool
	Reason        string
}

var (
	// ErrRejected 签名器预检失败（过期时间过短、价格出界等）。
	ErrRejected = errors.New("rejected by pre-flight validation")
	// ErrAckTimeout 等待确认超时：结果未知，不等于失败。
	ErrAckTimeout = errors.New("timed out waiting for transaction response")
)

// Signer 封装交易签名能力。
type Signer interface {
	SignOrder(p OrderParams, nonce int64, apiKeyIndex int) (Signed, error)
	SignCancelAll(nonce int64, apiKeyIndex int) (Signed, error)
}

// Transport 封装交易所通道的发送与确认等待。
type Transport interface {
	Send(ctx context.Context, tx Signed) error
	SendBatch(ctx context.Context, txs []Signed) error

	// WaitForBatchResponse 等待 n 笔交易的逐笔回应；超时返回 ErrAckTimeout。
	WaitForBatchResponse(ctx context.Context, n int, timeout time.Duration) ([]Ack, error)
}

// OpenOrder 权威在途订单视图（对账用）。
type OpenOrder struct {
	ClientOrderID int64
	IsAsk         bool
	PriceTicks    int64
}

// OpenOrdersSource 查询交易所当前在途订单。
type OpenOrdersSource interface {
	OpenOrders(ctx context.Context, marketID int) ([]OpenOrder, error)
}
