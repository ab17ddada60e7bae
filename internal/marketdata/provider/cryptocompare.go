// Package provider is the HTTP client for the CryptoCompare market-data API.
// It serves historical candle pages and the latest spot price.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"coinchart/internal/marketdata/history"
	"coinchart/internal/model"
)

const defaultBaseURL = "https://min-api.cryptocompare.com"

// ErrUpstream wraps failures reported by the market-data API itself.
var ErrUpstream = errors.New("market data upstream error")

// Config configures the CryptoCompare client.
type Config struct {
	BaseURL string
	APIKey  string
	Quote   string
	Timeout time.Duration

	// Observe, when set, is called after every upstream request.
	Observe func(endpoint string, elapsed time.Duration, err error)
}

// CryptoCompare implements history.Source and the live price source.
type CryptoCompare struct {
	baseURL  string
	apiKey   string
	quote    string
	http     *http.Client
	breaker  *Breaker
	validate *validator.Validate
	observe  func(string, time.Duration, error)
}

// New returns a client. A nil breaker disables circuit breaking.
func New(cfg Config, breaker *Breaker) *CryptoCompare {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CryptoCompare{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		quote:    strings.ToUpper(cfg.Quote),
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		validate: validator.New(),
		observe:  cfg.Observe,
	}
}

// barDTO is one entry of Data.Data in a histo* response.
type barDTO struct {
	Time  int64   `json:"time" validate:"gt=0"`
	Open  float64 `json:"open" validate:"gt=0"`
	High  float64 `json:"high" validate:"gt=0"`
	Low   float64 `json:"low" validate:"gt=0"`
	Close float64 `json:"close" validate:"gt=0"`
}

type histoResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []barDTO `json:"Data"`
	} `json:"Data"`
}

// Candles fetches one page of bars. Bars that fail validation (the zero
// bars returned before a coin was listed, or inconsistent OHLC) are dropped.
func (c *CryptoCompare) Candles(ctx context.Context, q history.PageQuery) ([]model.Candle, error) {
	unit, aggregate := q.Timeframe.Provider()
	if unit == "" {
		return nil, fmt.Errorf("candles %s: %w", q.Timeframe, model.ErrUnsupportedTimeframe)
	}

	params := url.Values{}
	params.Set("fsym", strings.ToUpper(q.Coin))
	params.Set("tsym", c.quote)
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("aggregate", strconv.Itoa(aggregate))
	if q.Paginated() {
		params.Set("toTs", strconv.FormatInt(q.Before, 10))
	}
	endpoint := "histo" + unit

	var resp histoResponse
	if err := c.get(ctx, endpoint, "/data/v2/"+endpoint, params, &resp); err != nil {
		return nil, fmt.Errorf("candles %s %s: %w", q.Coin, q.Timeframe, err)
	}
	if resp.Response == "Error" {
		return nil, fmt.Errorf("candles %s %s: %w: %s", q.Coin, q.Timeframe, ErrUpstream, resp.Message)
	}

	out := make([]model.Candle, 0, len(resp.Data.Data))
	dropped := 0
	for _, b := range resp.Data.Data {
		if err := c.validate.Struct(b); err != nil {
			dropped++
			continue
		}
		candle := model.Candle{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
		if !candle.Valid() {
			dropped++
			continue
		}
		out = append(out, candle)
	}
	if dropped > 0 {
		log.Debug().Str("coin", q.Coin).Str("tf", string(q.Timeframe)).Int("dropped", dropped).Msg("[provider] dropped invalid bars")
	}
	return out, nil
}

// LatestPrice returns the current spot price of coin in the quote currency.
func (c *CryptoCompare) LatestPrice(ctx context.Context, coin string) (float64, error) {
	params := url.Values{}
	params.Set("fsym", strings.ToUpper(coin))
	params.Set("tsyms", c.quote)

	var resp map[string]json.RawMessage
	if err := c.get(ctx, "price", "/data/price", params, &resp); err != nil {
		return 0, fmt.Errorf("price %s: %w", coin, err)
	}

	if raw, ok := resp["Response"]; ok {
		var status string
		_ = json.Unmarshal(raw, &status)
		if status == "Error" {
			return 0, fmt.Errorf("price %s: %w: %s", coin, ErrUpstream, messageOf(resp))
		}
	}

	raw, ok := resp[c.quote]
	if !ok {
		return 0, fmt.Errorf("price %s: %w: no %s quote", coin, ErrUpstream, c.quote)
	}
	var price float64
	if err := json.Unmarshal(raw, &price); err != nil || price <= 0 {
		return 0, fmt.Errorf("price %s: %w: bad %s quote %s", coin, ErrUpstream, c.quote, string(raw))
	}
	return price, nil
}

func (c *CryptoCompare) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	call := func(ctx context.Context) error {
		start := time.Now()
		err := c.do(ctx, path, params, out)
		if c.observe != nil {
			c.observe(endpoint, time.Since(start), err)
		}
		return err
	}
	if c.breaker == nil {
		return call(ctx)
	}
	return c.breaker.Do(ctx, call)
}

func (c *CryptoCompare) do(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("authorization", "Apikey "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"Message"`
		}
		_ = json.Unmarshal(body, &e)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, e.Message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func messageOf(resp map[string]json.RawMessage) string {
	var msg string
	if raw, ok := resp["Message"]; ok {
		_ = json.Unmarshal(raw, &msg)
	}
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}
