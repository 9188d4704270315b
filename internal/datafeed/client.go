package datafeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ChartBridge/internal/model"

	"golang.org/x/time/rate"
)

// Client talks to the datafeed shim over HTTP. Every request waits on a
// shared rate limiter before it is sent.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a shim client with optional proxy support. A
// non-positive perSecond disables pacing.
func NewClient(baseURL, proxyURL string, timeout time.Duration, perSecond float64, burst int) *Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// errStatus carries a non-200 response.
type errStatus struct {
	code int
	body string
}

func (e *errStatus) Error() string {
	return fmt.Sprintf("status %d, body: %s", e.code, e.body)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("datafeed %s: %w", path, err)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("datafeed %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("datafeed %s read body: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("datafeed %s: %w", path, &errStatus{code: resp.StatusCode, body: string(body)})
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("datafeed %s decode: %w", path, err)
	}
	return nil
}

// FetchConfig reads the shim's datafeed configuration.
func (c *Client) FetchConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := c.getJSON(ctx, "/config", nil, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Search runs a symbol search. Zero limit leaves the shim default.
func (c *Client) Search(ctx context.Context, query, exchange, symbolType string, limit int) ([]SymbolMatch, error) {
	q := url.Values{}
	q.Set("query", query)
	if exchange != "" {
		q.Set("exchange", exchange)
	}
	if symbolType != "" {
		q.Set("type", symbolType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var matches []SymbolMatch
	if err := c.getJSON(ctx, "/search", q, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// symbolResponse covers both the descriptor and the error form of /symbols.
type symbolResponse struct {
	SymbolInfo
	S      string `json:"s"`
	Errmsg string `json:"errmsg"`
}

// Resolve fetches the descriptor of name. Unknown symbols yield
// ErrSymbolNotFound.
func (c *Client) Resolve(ctx context.Context, name string) (SymbolInfo, error) {
	q := url.Values{}
	q.Set("symbol", name)
	var resp symbolResponse
	if err := c.getJSON(ctx, "/symbols", q, &resp); err != nil {
		if se, ok := asStatus(err); ok && se.code == http.StatusNotFound {
			return SymbolInfo{}, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
		}
		return SymbolInfo{}, err
	}
	if resp.S == "error" {
		if resp.Errmsg == "" || strings.Contains(strings.ToLower(resp.Errmsg), "unknown") || strings.Contains(strings.ToLower(resp.Errmsg), "not found") {
			return SymbolInfo{}, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
		}
		return SymbolInfo{}, fmt.Errorf("datafeed /symbols: %s", resp.Errmsg)
	}
	if resp.Name == "" && resp.Ticker == "" {
		return SymbolInfo{}, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
	}
	return resp.SymbolInfo, nil
}

// History fetches one window of bars, from and to in epoch seconds.
func (c *Client) History(ctx context.Context, symbol string, res model.Resolution, from, to int64) (historyResponse, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", string(res))
	q.Set("from", strconv.FormatInt(from, 10))
	q.Set("to", strconv.FormatInt(to, 10))
	var resp historyResponse
	if err := c.getJSON(ctx, "/history", q, &resp); err != nil {
		return historyResponse{}, err
	}
	return resp, nil
}

func asStatus(err error) (*errStatus, bool) {
	var se *errStatus
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
