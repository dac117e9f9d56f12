package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ErrUnreachable marks transport-level failures (connection refused,
// timeout, DNS). Callers use errors.Is to distinguish "could not ask"
// from legitimate empty answers and must skip the cycle, never crash.
var ErrUnreachable = errors.New("terminal agent unreachable")

// Client is a thin typed wrapper over one per-terminal HTTP agent.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New creates a client for the agent at baseURL (e.g. http://10.0.0.5:5000).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// NewForHost builds the base URL from a broker profile's ip/port.
func NewForHost(ip string, port int, timeout time.Duration) *Client {
	return New(fmt.Sprintf("http://%s:%d", ip, port), timeout)
}

// BaseURL returns the agent endpoint, for log lines.
func (c *Client) BaseURL() string { return c.baseURL }

// Health checks that the agent process answers at all.
func (c *Client) Health(ctx context.Context) error {
	return c.getJSON(ctx, "/health", nil)
}

// InitTerminal asks the agent to start/attach the MT5 terminal at path.
func (c *Client) InitTerminal(ctx context.Context, path string) error {
	return c.postJSON(ctx, "/init-mt5", map[string]string{"path": path}, nil)
}

// EnsureReady checks agent health and initializes the terminal when it
// is not ready yet. Failures are non-fatal: the caller treats a false
// return as "skip this cycle."
func (c *Client) EnsureReady(ctx context.Context, terminalPath string) bool {
	if err := c.Health(ctx); err == nil {
		return true
	}
	if err := c.InitTerminal(ctx, terminalPath); err != nil {
		log.Printf("[agent] %s not ready: %v", c.baseURL, err)
		return false
	}
	return c.Health(ctx) == nil
}

// Login authenticates the terminal against the broker server.
func (c *Client) Login(ctx context.Context, login, password, server string) (*LoginResult, error) {
	var res LoginResult
	err := c.postJSON(ctx, "/login", map[string]string{
		"login":    login,
		"password": password,
		"server":   server,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Positions returns the terminal's open positions. An empty slice with
// a nil error means the terminal is reachable and flat; transport
// failures wrap ErrUnreachable.
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	var res []Position
	if err := c.getJSON(ctx, "/positions", &res); err != nil {
		return nil, err
	}
	log.Printf("[agent] %s positions: %d open", c.baseURL, len(res))
	return res, nil
}

// SymbolInfo returns tradability and point value for a symbol.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error) {
	var res SymbolInfo
	if err := c.getJSON(ctx, "/symbol_info/"+symbol, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SymbolTick returns the current bid/ask for a symbol.
func (c *Client) SymbolTick(ctx context.Context, symbol string) (*Tick, error) {
	var res Tick
	if err := c.getJSON(ctx, "/symbol_tick/"+symbol, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// LastCandles returns the most recent count bars, oldest-first.
func (c *Client) LastCandles(ctx context.Context, symbol, timeframe string, count int) ([]Candle, error) {
	var res []Candle
	err := c.postJSON(ctx, "/candle/last", map[string]any{
		"symbol":    symbol,
		"timeframe": timeframe,
		"count":     count,
	}, &res)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SendOrder dispatches a market order request.
func (c *Client) SendOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	var ack OrderAck
	if err := c.postJSON(ctx, "/order", req, &ack); err != nil {
		return nil, err
	}
	log.Printf("[agent] %s order %s %s %.2f -> ticket=%d retcode=%s",
		c.baseURL, SideString(req.Side), req.Symbol, req.Volume, ack.Ticket, ack.Retcode)
	return &ack, nil
}

// CloseOrder closes one position by ticket and returns realized profit.
func (c *Client) CloseOrder(ctx context.Context, ticket int64) (*CloseResult, error) {
	var res CloseResult
	if err := c.postJSON(ctx, fmt.Sprintf("/close_order/%d", ticket), nil, &res); err != nil {
		return nil, err
	}
	log.Printf("[agent] %s close ticket=%d profit=%.2f", c.baseURL, ticket, res.Profit)
	return &res, nil
}

// CloseBySymbol closes all positions on a symbol.
func (c *Client) CloseBySymbol(ctx context.Context, symbol string) ([]OrderAck, error) {
	var res []OrderAck
	if err := c.postJSON(ctx, "/close_order_by_symbol", map[string]string{"symbol": symbol}, &res); err != nil {
		return nil, err
	}
	log.Printf("[agent] %s close_by_symbol %s: %d closed", c.baseURL, symbol, len(res))
	return res, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %v", req.Method, path, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: agent returned %d: %s", req.Method, path, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, path, err)
	}
	return nil
}
