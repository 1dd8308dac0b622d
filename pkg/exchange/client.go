package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"perps/logger"
	"perps/pkg/order"
)

// Client is the REST client for the exchange API: market metadata, fee
// schedules and order submission. Streaming lives in pkg/stream.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *fasthttp.Client
	log     *logger.Log
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &fasthttp.Client{},
		log:     logger.GetLogger(),
	}
}

// MarketResponse is the API envelope for market metadata.
type MarketResponse struct {
	Data   []order.Market `json:"data"`
	Status string         `json:"status"`
}

// GetMarket retrieves metadata for one market.
func (c *Client) GetMarket(name string) (*order.Market, error) {
	var out MarketResponse
	if err := c.do(fasthttp.MethodGet, c.baseURL+"/info/markets?market="+name, nil, &out); err != nil {
		return nil, err
	}
	if out.Status != "OK" {
		return nil, fmt.Errorf("API returned error status: %s", out.Status)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: %s", order.ErrMarketNotFound, name)
	}
	return &out.Data[0], nil
}

// FeeResponse is the API envelope for fee schedules.
type FeeResponse struct {
	Data   []order.TradingFee `json:"data"`
	Status string             `json:"status"`
}

// GetMarketFee retrieves the account's fee schedule for a market.
func (c *Client) GetMarketFee(market string) ([]order.TradingFee, error) {
	var out FeeResponse
	if err := c.do(fasthttp.MethodGet, c.baseURL+"/user/fees?market="+market, nil, &out); err != nil {
		return nil, err
	}
	if out.Status != "OK" {
		return nil, fmt.Errorf("API returned error status: %s", out.Status)
	}
	return out.Data, nil
}

// OrderResponse is the API response after order submission.
type OrderResponse struct {
	Status string `json:"status"`
	Data   struct {
		OrderID    uint64 `json:"id"`
		ExternalID string `json:"externalId"`
	} `json:"data"`
}

// SubmitOrder posts a signed order payload.
func (c *Client) SubmitOrder(o *order.Model) (*OrderResponse, error) {
	if o == nil {
		return nil, fmt.Errorf("order is nil")
	}
	body, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order: %w", err)
	}

	var out OrderResponse
	if err := c.do(fasthttp.MethodPost, c.baseURL+"/user/order", body, &out); err != nil {
		return nil, err
	}
	if out.Status != "OK" {
		return nil, fmt.Errorf("API returned error status: %s", out.Status)
	}
	if out.Data.ExternalID != o.ID {
		return nil, fmt.Errorf("mismatched order ID in response: got %s, expected %s", out.Data.ExternalID, o.ID)
	}
	return &out, nil
}

// MassCancel cancels all resting orders on a market.
func (c *Client) MassCancel(market string) error {
	body, err := json.Marshal(map[string]any{
		"markets":   []string{market},
		"cancelAll": true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cancel request: %w", err)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(fasthttp.MethodPost, c.baseURL+"/user/order/massCancel", body, &out); err != nil {
		return err
	}
	if out.Status != "OK" {
		return fmt.Errorf("API returned error status: %s", out.Status)
	}
	return nil
}

func (c *Client) do(method, url string, body []byte, out any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	if err := c.http.DoTimeout(req, resp, c.timeout); err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, url, err)
	}
	return nil
}
