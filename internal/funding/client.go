// Package funding fetches perpetual-futures funding rate history and merges
// it onto a bar feed.
package funding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"barrun/internal/domain"
	"barrun/internal/util"
)

const (
	// DefaultBaseURL is the public futures API host.
	DefaultBaseURL = "https://fapi.binance.com"

	historyPath      = "/fapi/v1/fundingRate"
	defaultPageLimit = 1000
)

// Client reads funding rate history over HTTP.
type Client struct {
	baseURL   string
	http      *http.Client
	limiter   *util.RateLimiter
	pageLimit int
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps requests per minute, allowing burst pages back to
// back. Zero disables limiting.
func WithRateLimit(perMinute, burst int) Option {
	return func(c *Client) { c.limiter = util.NewRateLimiter(perMinute, burst) }
}

// WithPageLimit sets the number of rows requested per page.
func WithPageLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

// NewClient creates a Client against baseURL. An empty baseURL uses
// DefaultBaseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 10 * time.Second},
		pageLimit: defaultPageLimit,
		logger:    logger.With("component", "funding"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NormalizeSymbol maps "BTC/USDT", "btc-usdt" and "BTC/USDT:USDT" to
// "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		symbol = symbol[:i]
	}
	symbol = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(symbol)
	return strings.ToUpper(symbol)
}

// Fetch returns the funding history for symbol within [start, end]. Any
// failure is logged and yields no rates, so a run proceeds with funding
// conditions disabled.
func (c *Client) Fetch(ctx context.Context, symbol string, start, end time.Time) []domain.FundingRate {
	rates, err := c.FetchHistory(ctx, symbol, start, end)
	if err != nil {
		c.logger.Warn("funding fetch failed, continuing without funding",
			"symbol", symbol, "start", start, "end", end, "error", err)
		return nil
	}
	if len(rates) == 0 {
		c.logger.Warn("no funding data returned", "symbol", symbol)
	}
	return rates
}

// FetchHistory pages through the funding history for symbol within
// [start, end], oldest first.
func (c *Client) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.FundingRate, error) {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil, fmt.Errorf("invalid funding window %v..%v", start, end)
	}
	sym := NormalizeSymbol(symbol)
	endMs := end.UnixMilli()

	var out []domain.FundingRate
	from := start.UnixMilli()
	for from <= endMs {
		page, err := c.page(ctx, sym, from, endMs)
		if err != nil {
			return nil, err
		}
		last := from - 1
		for _, r := range page {
			ts := time.UnixMilli(r.FundingTime).UTC()
			rate, err := strconv.ParseFloat(r.FundingRate, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing funding rate %q: %w", r.FundingRate, err)
			}
			if r.FundingTime > last {
				last = r.FundingTime
			}
			out = append(out, domain.FundingRate{Symbol: sym, Time: ts, Rate: rate})
		}
		if len(page) < c.pageLimit || last < from {
			break
		}
		from = last + 1
	}
	return out, nil
}

type fundingRow struct {
	Symbol      string `json:"symbol"`
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

func (c *Client) page(ctx context.Context, symbol string, from, to int64) ([]fundingRow, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("startTime", strconv.FormatInt(from, 10))
	q.Set("endTime", strconv.FormatInt(to, 10))
	q.Set("limit", strconv.Itoa(c.pageLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+historyPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting funding history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("funding history: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rows []fundingRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding funding history: %w", err)
	}
	c.logger.Debug("funding page", "symbol", symbol, "from", from, "rows", len(rows))
	return rows, nil
}
