package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quote-engine-go/market"
)

// 连接健康策略：静默过久或连接过老都交给上层重连。
const (
	maxNoMessageTime = 15 * time.Second
	maxConnectionAge = 5 * time.Minute
	watchdogInterval = 5 * time.Second
)

// WSClient 管理到交易所的 WebSocket：订阅行情/账户频道、发送交易、
// 等待逐笔确认。重连与退避由持有者负责，收到 Closed 事件后重建即可。
type WSClient struct {
	URL       string
	AuthToken string
	MarketID  int

	conn   *websocket.Conn
	connMu sync.Mutex // 串行化写帧

	events  chan Event
	acks    chan []Ack
	stopped chan struct{}
	log     *zap.Logger

	lastMessage time.Time
	connectedAt time.Time
	stateMu     sync.Mutex
}

func NewWSClient(url, authToken string, marketID int, log *zap.Logger) *WSClient {
	return &WSClient{
		URL:       url,
		AuthToken: authToken,
		MarketID:  marketID,
		events:    make(chan Event, 256),
		acks:      make(chan []Ack, 16),
		stopped:   make(chan struct{}),
		log:       log,
	}
}

// Events 返回行情事件通道。
func (c *WSClient) Events() <-chan Event {
	return c.events
}

// Connect 建立连接、订阅频道并启动读循环。
func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("ws dial %s: %w", c.URL, err)
	}
	c.conn = conn
	now := time.Now()
	c.stateMu.Lock()
	c.lastMessage = now
	c.connectedAt = now
	c.stateMu.Unlock()

	subs := []string{
		fmt.Sprintf("order_book/%d", c.MarketID),
		fmt.Sprintf("market_stats/%d", c.MarketID),
	}
	for _, ch := range subs {
		if err := c.writeJSON(map[string]interface{}{
			"type":    "subscribe",
			"channel": ch,
			"auth":    c.AuthToken,
		}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}

	go c.readLoop()
	go c.watchdog()
	return nil
}

// Close 关闭连接并结束读循环。
func (c *WSClient) Close() {
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Send 发送单笔已签名交易。
func (c *WSClient) Send(_ context.Context, tx Signed) error {
	var info json.RawMessage
	if err := json.Unmarshal([]byte(tx.TxInfo), &info); err != nil {
		return fmt.Errorf("tx_info is not valid JSON: %w", err)
	}
	return c.writeJSON(map[string]interface{}{
		"type": "jsonapi/sendtx",
		"data": map[string]interface{}{
			"auth":    c.AuthToken,
			"tx_type": tx.TxType,
			"tx_info": info,
		},
	})
}

// SendBatch 将一组交易作为单帧发送。单帧上限由调用方保证。
func (c *WSClient) SendBatch(_ context.Context, txs []Signed) error {
	types := make([]uint8, len(txs))
	infos := make([]json.RawMessage, len(txs))
	for i, tx := range txs {
		types[i] = tx.TxType
		var info json.RawMessage
		if err := json.Unmarshal([]byte(tx.TxInfo), &info); err != nil {
			return fmt.Errorf("tx_info[%d] is not valid JSON: %w", i, err)
		}
		infos[i] = info
	}
	typesJSON, err := json.Marshal(types)
	if err != nil {
		return err
	}
	return c.writeJSON(map[string]interface{}{
		"type": "jsonapi/sendtxbatch",
		"data": map[string]interface{}{
			"auth":     c.AuthToken,
			"tx_types": string(typesJSON),
			"tx_infos": infos,
		},
	})
}

// WaitForBatchResponse 等待一帧交易的逐笔回应；超时即 Unknown。
func (c *WSClient) WaitForBatchResponse(ctx context.Context, n int, timeout time.Duration) ([]Ack, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case acks := <-c.acks:
		if len(acks) != n {
			// 条数对不上无法逐笔归属，整帧按未确认处理
			c.log.Warn("tx response count mismatch",
				zap.Int("want", n), zap.Int("got", len(acks)))
			return nil, ErrAckTimeout
		}
		return acks, nil
	case <-timer.C:
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		return nil, ErrAckTimeout
	}
}

func (c *WSClient) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("ws not connected")
	}
	return c.conn.WriteJSON(v)
}

// watchdog 监测静默与连接年龄，触发 Closed 事件让上层重连。
func (c *WSClient) watchdog() {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopped:
			return
		case <-ticker.C:
			c.stateMu.Lock()
			silent := time.Since(c.lastMessage)
			age := time.Since(c.connectedAt)
			c.stateMu.Unlock()
			if silent > maxNoMessageTime {
				c.emit(Closed{Reason: fmt.Sprintf("no messages for %s", silent.Truncate(time.Second))})
				c.Close()
				return
			}
			if age > maxConnectionAge {
				c.emit(Closed{Reason: "connection aged out"})
				c.Close()
				return
			}
		}
	}
}

func (c *WSClient) readLoop() {
	for {
		select {
		case <-c.stopped:
			return
		default:
		}
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.emit(Closed{Reason: err.Error()})
			return
		}
		c.stateMu.Lock()
		c.lastMessage = time.Now()
		c.stateMu.Unlock()
		c.handleMessage(raw)
	}
}

type wsEnvelope struct {
	Type      string         `json:"type"`
	Channel   string         `json:"channel"`
	OrderBook *wsOrderBook   `json:"order_book"`
	Stats     *wsMarketStats `json:"market_stats"`
	TxResults []wsTxResult   `json:"tx_results"`
	Position  *wsPosition    `json:"position"`
	Trades    []wsTrade      `json:"trades"`
}

type wsOrderBook struct {
	Bids []wsLevel `json:"bids"`
	Asks []wsLevel `json:"asks"`
}

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wsMarketStats struct {
	MarketID  int    `json:"market_id"`
	MarkPrice string `json:"mark_price"`
}

type wsTxResult struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wsPosition struct {
	MarketID int    `json:"market_id"`
	Sign     int    `json:"sign"`
	Position string `json:"position"`
}

type wsTrade struct {
	MarketID int    `json:"market_id"`
	Size     string `json:"size"`
	Price    string `json:"price"`
	IsAsk    bool   `json:"is_ask"`
}

func (c *WSClient) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Debug("malformed ws message", zap.Error(err))
		return
	}
	switch env.Type {
	case "connected":
		c.emit(Connected{})
	case "ping":
		_ = c.writeJSON(map[string]string{"type": "pong"})
	case "subscribed", "pong":
		// 忽略
	case "update/order_book", "subscribed/order_book":
		if env.OrderBook == nil || parseChannelMarket(env.Channel) != c.MarketID {
			return
		}
		c.emit(BookUpdate{
			MarketID: c.MarketID,
			Bids:     parseLevels(env.OrderBook.Bids),
			Asks:     parseLevels(env.OrderBook.Asks),
			At:       time.Now(),
		})
	case "update/market_stats", "subscribed/market_stats":
		if env.Stats == nil || env.Stats.MarketID != c.MarketID {
			return
		}
		price, err := strconv.ParseFloat(env.Stats.MarkPrice, 64)
		if err != nil {
			c.log.Warn("malformed mark price", zap.String("value", env.Stats.MarkPrice))
			return
		}
		c.emit(MarkUpdate{MarketID: c.MarketID, Price: price, At: time.Now()})
	case "update/account":
		if env.Position != nil && env.Position.MarketID == c.MarketID {
			if pos, err := strconv.ParseFloat(env.Position.Position, 64); err == nil {
				c.emit(PositionUpdate{MarketID: c.MarketID, Signed: float64(env.Position.Sign) * pos})
			}
		}
		for _, tr := range env.Trades {
			if tr.MarketID != c.MarketID {
				continue
			}
			size, err := strconv.ParseFloat(tr.Size, 64)
			if err != nil || size == 0 {
				continue
			}
			price, err := strconv.ParseFloat(tr.Price, 64)
			if err != nil {
				continue
			}
			qty := size
			if tr.IsAsk {
				qty = -size
			}
			c.emit(FillUpdate{MarketID: c.MarketID, SignedQty: qty, Price: price})
		}
	case "jsonapi/sendtx", "jsonapi/sendtxbatch":
		acks := make([]Ack, len(env.TxResults))
		for i, r := range env.TxResults {
			acks[i] = Ack{
				Accepted:      r.Code == 200,
				NonceMismatch: strings.Contains(strings.ToLower(r.Message), "nonce"),
				Reason:        r.Message,
			}
		}
		select {
		case c.acks <- acks:
		default:
			c.log.Warn("dropping unclaimed tx response", zap.Int("count", len(acks)))
		}
	case "error":
		c.log.Warn("ws error frame", zap.ByteString("raw", raw))
	default:
		c.log.Debug("unknown ws event", zap.String("type", env.Type))
	}
}

func (c *WSClient) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		// 引擎落后时丢最旧事件意义不大，直接丢当前帧并记日志
		c.log.Warn("event channel full, dropping event")
	}
}

// parseChannelMarket 从 "order_book:1" / "order_book/1" 提取市场 ID。
func parseChannelMarket(channel string) int {
	idx := strings.LastIndexAny(channel, ":/")
	if idx < 0 {
		return -1
	}
	id, err := strconv.Atoi(channel[idx+1:])
	if err != nil {
		return -1
	}
	return id
}

func parseLevels(in []wsLevel) []market.Level {
	out := make([]market.Level, 0, len(in))
	for _, l := range in {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			size = 0
		}
		out = append(out, market.Level{Price: price, Size: size})
	}
	return out
}
