// Package bridge is a Gateway that talks JSON over HTTP to a local sidecar
// fronting the brokerage terminal.
//
//	GET  /quote/{instrument}     -> {"code","last_price"}
//	POST /orders                 -> {"order_id"}
//	POST /orders/{id}/cancel     -> {}
//	GET  /orders/{id}            -> {"order_id","order_status","dealt_avg_price","dealt_qty"}
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rustyeddy/futdesk/broker"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8787"
	DefaultTimeout = 15 * time.Second
)

// Env selects the terminal's trading environment.
type Env string

const (
	Simulate Env = "SIMULATE"
	Real     Env = "REAL"
)

func ParseEnv(s string) (Env, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SIMULATE", "SIM", "PAPER":
		return Simulate, nil
	case "REAL", "LIVE":
		return Real, nil
	default:
		return "", fmt.Errorf("unknown trading env %q (want SIMULATE|REAL)", s)
	}
}

type Client struct {
	BaseURL string
	Env     Env
	HTTP    *http.Client
}

var _ broker.Gateway = (*Client)(nil)

func New(baseURL string, env Env, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if env == "" {
		env = Simulate
	}
	return &Client{
		BaseURL: baseURL,
		Env:     env,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Code      string  `json:"code"`
	LastPrice float64 `json:"last_price"`
}

func (c *Client) Quote(ctx context.Context, instrument string) (float64, error) {
	var out quoteResponse
	if err := c.do(ctx, http.MethodGet, "/quote/"+url.PathEscape(instrument), nil, "", &out); err != nil {
		return 0, fmt.Errorf("quote %s: %w", instrument, err)
	}
	if out.LastPrice <= 0 {
		return 0, fmt.Errorf("quote %s: %w: no last price", instrument, broker.ErrUnavailable)
	}
	return out.LastPrice, nil
}

type placeRequest struct {
	Code      string  `json:"code"`
	TrdSide   string  `json:"trd_side"`
	Qty       int     `json:"qty"`
	Price     float64 `json:"price"`
	OrderType string  `json:"order_type"`
	TrdEnv    Env     `json:"trd_env"`
	Remark    string  `json:"remark,omitempty"`
}

type placeResponse struct {
	OrderID string `json:"order_id"`
}

// SubmitOrder places an order. Each call carries a fresh Idempotency-Key so
// the sidecar can drop retried duplicates.
func (c *Client) SubmitOrder(ctx context.Context, req broker.OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrRejected, err)
	}
	body := placeRequest{
		Code:      req.Instrument,
		TrdSide:   req.Side.String(),
		Qty:       req.Qty,
		Price:     req.Price,
		OrderType: "NORMAL",
		TrdEnv:    c.Env,
		Remark:    req.Remark,
	}
	if req.Market {
		body.OrderType = "MARKET"
	}

	var out placeResponse
	if err := c.do(ctx, http.MethodPost, "/orders", body, uuid.NewString(), &out); err != nil {
		return "", fmt.Errorf("place %s %s x%d: %w", req.Side, req.Instrument, req.Qty, err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("place %s %s: %w: empty order_id", req.Side, req.Instrument, broker.ErrTransient)
	}
	return out.OrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	path := "/orders/" + url.PathEscape(brokerID) + "/cancel"
	body := map[string]any{"trd_env": c.Env}
	if err := c.do(ctx, http.MethodPost, path, body, "", nil); err != nil {
		return fmt.Errorf("cancel %s: %w", brokerID, err)
	}
	return nil
}

type statusResponse struct {
	OrderID       string  `json:"order_id"`
	OrderStatus   string  `json:"order_status"`
	DealtAvgPrice float64 `json:"dealt_avg_price"`
	DealtQty      int     `json:"dealt_qty"`
}

func (c *Client) QueryStatus(ctx context.Context, brokerID string) (broker.OrderState, error) {
	var out statusResponse
	path := "/orders/" + url.PathEscape(brokerID) + "?trd_env=" + url.QueryEscape(string(c.Env))
	if err := c.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return broker.OrderState{}, fmt.Errorf("status %s: %w", brokerID, err)
	}
	return broker.OrderState{
		Status:    broker.ParseStatus(out.OrderStatus),
		FillPrice: out.DealtAvgPrice,
		FilledQty: out.DealtQty,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, idemKey string, out any) error {
	var rdr io.Reader
	if in != nil {
		payload, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		rdr = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "futdesk/bridge")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", broker.ErrTransient, err)
	}
	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode: %v; body=%s", broker.ErrTransient, err, trimForErr(string(data)))
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

// statusError maps an HTTP failure onto the gateway error taxonomy.
func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var eb errorBody
	if sonic.Unmarshal(body, &eb) == nil && eb.Error != "" {
		msg = eb.Error
	}
	msg = trimForErr(msg)

	var kind error
	switch {
	case code == http.StatusNotFound:
		kind = broker.ErrNotFound
	case code == http.StatusTooManyRequests || code >= 500:
		kind = broker.ErrTransient
	case code >= 400:
		kind = broker.ErrRejected
	default:
		kind = broker.ErrTransient
	}
	return fmt.Errorf("%w: http %d: %s", kind, code, msg)
}

func trimForErr(s string) string {
	const n = 200
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
