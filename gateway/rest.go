package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RESTClient 覆盖不走 WebSocket 的查询面：权威 nonce 与在途订单。
// HTTPClient 可注入 httptest。
type RESTClient struct {
	BaseURL      string
	AuthToken    string
	AccountIndex int
	HTTPClient   *http.Client
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type nextNonceResp struct {
	Nonce int64 `json:"nonce"`
}

// NextNonce 查询某 api key 的下一个可用 nonce。
func (c *RESTClient) NextNonce(ctx context.Context, apiKeyIndex int) (int64, error) {
	if c == nil || c.HTTPClient == nil {
		return 0, fmt.Errorf("http client not set")
	}
	q := url.Values{}
	q.Set("account_index", strconv.Itoa(c.AccountIndex))
	q.Set("api_key_index", strconv.Itoa(apiKeyIndex))

	var out nextNonceResp
	if err := c.getJSON(ctx, "/api/v1/nextNonce", q, &out); err != nil {
		return 0, fmt.Errorf("next nonce: %w", err)
	}
	if out.Nonce < 0 {
		return 0, fmt.Errorf("next nonce: negative value %d", out.Nonce)
	}
	return out.Nonce, nil
}

type activeOrdersResp struct {
	Orders []struct {
		ClientOrderIndex int64  `json:"client_order_index"`
		IsAsk            bool   `json:"is_ask"`
		Price            string `json:"price"`
		PriceTicks       int64  `json:"price_ticks"`
	} `json:"orders"`
}

// OpenOrders 查询该市场当前在途订单（对账用）。
func (c *RESTClient) OpenOrders(ctx context.Context, marketID int) ([]OpenOrder, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	q := url.Values{}
	q.Set("account_index", strconv.Itoa(c.AccountIndex))
	q.Set("market_id", strconv.Itoa(marketID))

	var out activeOrdersResp
	if err := c.getJSON(ctx, "/api/v1/accountActiveOrders", q, &out); err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	orders := make([]OpenOrder, 0, len(out.Orders))
	for _, o := range out.Orders {
		orders = append(orders, OpenOrder{
			ClientOrderID: o.ClientOrderIndex,
			IsAsk:         o.IsAsk,
			PriceTicks:    o.PriceTicks,
		})
	}
	return orders, nil
}

func (c *RESTClient) getJSON(ctx context.Context, path string, q url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.AuthToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
