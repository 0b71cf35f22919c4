package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"marketpulse/internal/model"
)

// DefaultHTTPBase is the Bybit v5 public REST endpoint.
const DefaultHTTPBase = "https://api.bybit.com"

const (
	defaultHTTPTimeout = 20 * time.Second
	defaultRetries     = 3
	defaultBackoff     = 600 * time.Millisecond
)

// RESTConfig configures the REST client.
type RESTConfig struct {
	BaseURL string        // defaults to DefaultHTTPBase
	Timeout time.Duration // per-request total timeout, defaults to 20s
	Retries int           // attempts per request, defaults to 3
	Backoff time.Duration // linear backoff unit, defaults to 600ms
}

// REST is the upstream market-data REST collaborator. Every call retries
// transient failures with linear backoff before giving up.
type REST struct {
	base    string
	hc      *http.Client
	retries int
	backoff time.Duration
}

// NewREST creates a REST client with config defaults filled in.
func NewREST(cfg RESTConfig) *REST {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHTTPBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &REST{
		base:    cfg.BaseURL,
		hc:      &http.Client{Timeout: cfg.Timeout},
		retries: cfg.Retries,
		backoff: cfg.Backoff,
	}
}

// Instrument is one row of the instruments-info listing.
type Instrument struct {
	Symbol    string `json:"symbol"`
	BaseCoin  string `json:"baseCoin"`
	QuoteCoin string `json:"quoteCoin"`
	Status    string `json:"status"`
}

// Ticker is the seeded last-price view of one symbol.
type Ticker struct {
	Symbol    string
	LastPrice *float64
	UpdatedAt int64 // epoch millis; 0 when upstream sent no timestamp
}

// Instruments fetches the full linear instrument listing (unfiltered).
func (c *REST) Instruments(ctx context.Context) ([]Instrument, error) {
	var resp struct {
		Result struct {
			List []Instrument `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"category": {"linear"}, "limit": {"1000"}}
	if err := c.getJSON(ctx, "/v5/market/instruments-info", params, &resp); err != nil {
		return nil, fmt.Errorf("instruments: %w", err)
	}
	return resp.Result.List, nil
}

// Tickers fetches the tickers snapshot keyed by symbol.
func (c *REST) Tickers(ctx context.Context) (map[string]Ticker, error) {
	var resp struct {
		Result struct {
			List []struct {
				Symbol    string      `json:"symbol"`
				LastPrice interface{} `json:"lastPrice"`
				TS        interface{} `json:"ts"`
				Timestamp interface{} `json:"timestamp"`
			} `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"category": {"linear"}}
	if err := c.getJSON(ctx, "/v5/market/tickers", params, &resp); err != nil {
		return nil, fmt.Errorf("tickers: %w", err)
	}

	out := make(map[string]Ticker, len(resp.Result.List))
	for _, it := range resp.Result.List {
		t := Ticker{Symbol: it.Symbol}
		if v, ok := toFloat(it.LastPrice); ok {
			t.LastPrice = &v
		}
		// the payload carries ts or timestamp depending on endpoint version
		if ms, ok := toInt64(it.TS); ok && ms > 0 {
			t.UpdatedAt = ms
		} else if ms, ok := toInt64(it.Timestamp); ok && ms > 0 {
			t.UpdatedAt = ms
		}
		out[it.Symbol] = t
	}
	return out, nil
}

// Klines fetches up to limit candles for one (symbol, interval) and returns
// them sorted by ascending start time. The upstream list order is not
// guaranteed, so we always sort.
func (c *REST) Klines(ctx context.Context, symbol, interval string, limit int) ([]model.Kline, error) {
	var resp struct {
		Result struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	params := url.Values{
		"category": {"linear"},
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := c.getJSON(ctx, "/v5/market/kline", params, &resp); err != nil {
		return nil, fmt.Errorf("kline %s %s: %w", symbol, interval, err)
	}

	klines := make([]model.Kline, 0, len(resp.Result.List))
	for _, row := range resp.Result.List {
		k, err := parseKlineRow(row)
		if err != nil {
			continue // malformed row, skip
		}
		klines = append(klines, k)
	}
	sort.Slice(klines, func(i, j int) bool { return klines[i].Start < klines[j].Start })
	return klines, nil
}

// parseKlineRow parses a REST kline row [start, open, high, low, close,
// volume, turnover] of decimal strings.
func parseKlineRow(row []string) (model.Kline, error) {
	if len(row) < 7 {
		return model.Kline{}, fmt.Errorf("kline row has %d fields, want 7", len(row))
	}
	start, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Kline{}, fmt.Errorf("kline start: %w", err)
	}
	vals := make([]float64, 6)
	for i := 1; i < 7; i++ {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return model.Kline{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i-1] = v
	}
	return model.Kline{
		Start:    start,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Turnover: vals[5],
	}, nil
}

// getJSON performs one GET with retries and decodes the body into out.
func (c *REST) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt-1)):
			}
		}
		if err := c.getJSONOnce(ctx, path, params, out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (c *REST) getJSONOnce(ctx context.Context, path string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
