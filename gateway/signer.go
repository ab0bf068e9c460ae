package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// 订单签名有效期；过短会被交易所拒绝。
const orderExpiry = 10 * time.Minute

// HMACSigner 以每个 api key 的私钥对交易负载做 HMAC-SHA256 签名，
// 产出可直接进帧的 tx_info JSON。
type HMACSigner struct {
	AccountIndex int
	Keys         map[int]string // api key index -> private key
}

type orderTxInfo struct {
	AccountIndex     int    `json:"account_index"`
	ApiKeyIndex      int    `json:"api_key_index"`
	MarketIndex      int    `json:"market_index"`
	ClientOrderIndex int64  `json:"client_order_index"`
	IsAsk            int    `json:"is_ask"`
	Price            int64  `json:"price"`
	BaseAmount       int64  `json:"base_amount"`
	TimeInForce      int    `json:"time_in_force"`
	ReduceOnly       int    `json:"reduce_only"`
	ExpiredAt        int64  `json:"expired_at"`
	Nonce            int64  `json:"nonce"`
	Sig              string `json:"sig"`
}

type cancelAllTxInfo struct {
	AccountIndex int    `json:"account_index"`
	ApiKeyIndex  int    `json:"api_key_index"`
	ExpiredAt    int64  `json:"expired_at"`
	Nonce        int64  `json:"nonce"`
	Sig          string `json:"sig"`
}

// SignOrder 构造并签名一笔下单交易。
func (s *HMACSigner) SignOrder(p OrderParams, nonce int64, apiKeyIndex int) (Signed, error) {
	key, ok := s.Keys[apiKeyIndex]
	if !ok {
		return Signed{}, fmt.Errorf("no private key for api key %d: %w", apiKeyIndex, ErrRejected)
	}
	if p.PriceTicks <= 0 {
		return Signed{}, fmt.Errorf("price ticks %d out of range: %w", p.PriceTicks, ErrRejected)
	}
	if p.BaseQty <= 0 {
		return Signed{}, fmt.Errorf("base qty %d out of range: %w", p.BaseQty, ErrRejected)
	}

	info := orderTxInfo{
		AccountIndex:     s.AccountIndex,
		ApiKeyIndex:      apiKeyIndex,
		MarketIndex:      p.MarketID,
		ClientOrderIndex: p.ClientOrderID,
		IsAsk:            boolToInt(p.IsAsk),
		Price:            p.PriceTicks,
		BaseAmount:       p.BaseQty,
		TimeInForce:      p.TimeInForce,
		ReduceOnly:       boolToInt(p.ReduceOnly),
		ExpiredAt:        time.Now().Add(orderExpiry).UnixMilli(),
		Nonce:            nonce,
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return Signed{}, err
	}
	info.Sig = sign(payload, key)

	raw, err := json.Marshal(info)
	if err != nil {
		return Signed{}, err
	}
	return Signed{TxType: TxTypeCreateOrder, TxInfo: string(raw)}, nil
}

// SignCancelAll 构造并签名全量撤单交易。
func (s *HMACSigner) SignCancelAll(nonce int64, apiKeyIndex int) (Signed, error) {
	key, ok := s.Keys[apiKeyIndex]
	if !ok {
		return Signed{}, fmt.Errorf("no private key for api key %d: %w", apiKeyIndex, ErrRejected)
	}
	info := cancelAllTxInfo{
		AccountIndex: s.AccountIndex,
		ApiKeyIndex:  apiKeyIndex,
		ExpiredAt:    time.Now().Add(orderExpiry).UnixMilli(),
		Nonce:        nonce,
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return Signed{}, err
	}
	info.Sig = sign(payload, key)

	raw, err := json.Marshal(info)
	if err != nil {
		return Signed{}, err
	}
	return Signed{TxType: TxTypeCancelAllOrders, TxInfo: string(raw)}, nil
}

func sign(payload []byte, key string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
