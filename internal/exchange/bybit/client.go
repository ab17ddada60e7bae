// Package bybit is a minimal signed client for the Bybit v5 REST API:
// leverage, market orders and the USDT wallet balance of a derivatives
// account.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coinchart/internal/model"
)

const (
	defaultBaseURL    = "https://api.bybit.com"
	defaultRecvWindow = 5000

	setLeverageEndpoint   = "/v5/position/set-leverage"
	createOrderEndpoint   = "/v5/order/create"
	walletBalanceEndpoint = "/v5/account/wallet-balance"

	categoryLinear = "linear"

	// retCodeLeverageNotModified is returned when leverage already has the
	// requested value.
	retCodeLeverageNotModified = 110025
)

var (
	// ErrUpstream matches every error reported by the exchange.
	ErrUpstream = errors.New("exchange error")
	// ErrMissingCredentials is returned when no API key or secret is set.
	ErrMissingCredentials = errors.New("API key and secret are required")
)

// APIError is a non-zero retCode from the exchange.
type APIError struct {
	Op   string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Code, e.Msg)
}

// Is makes errors.Is(err, ErrUpstream) true for every APIError.
func (e *APIError) Is(target error) bool { return target == ErrUpstream }

// Config configures a Client.
type Config struct {
	BaseURL    string
	DemoURL    string // used in demo mode when set
	RecvWindow int
	Timeout    time.Duration
}

// Client signs requests with one set of credentials.
type Client struct {
	baseURL    string
	creds      model.Credentials
	recvWindow string
	http       *http.Client
	now        func() time.Time
}

// New returns a client for creds.
func New(cfg Config, creds model.Credentials) (*Client, error) {
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := cfg.BaseURL
	if creds.Demo() && cfg.DemoURL != "" {
		base = cfg.DemoURL
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		creds:      creds,
		recvWindow: strconv.Itoa(cfg.RecvWindow),
		http:       &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}, nil
}

// Demo reports whether the client trades on the demo environment.
func (c *Client) Demo() bool { return c.creds.Demo() }

// Order is a market order on a linear perpetual.
type Order struct {
	Symbol     string
	Side       string // Buy or Sell
	Qty        string
	TakeProfit string // optional
	StopLoss   string // optional
	LinkID     string // generated when empty
}

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// SetLeverage sets buy and sell leverage for symbol. An unchanged leverage
// is not an error.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	body := map[string]string{
		"category":     categoryLinear,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	env, err := c.post(ctx, setLeverageEndpoint, body)
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	if env.RetCode != 0 && env.RetCode != retCodeLeverageNotModified {
		return &APIError{Op: "set leverage", Code: env.RetCode, Msg: env.RetMsg}
	}
	return nil
}

// PlacedOrder identifies an accepted order.
type PlacedOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceMarketOrder submits o and returns the exchange order id.
func (c *Client) PlaceMarketOrder(ctx context.Context, o Order) (PlacedOrder, error) {
	if o.LinkID == "" {
		o.LinkID = uuid.NewString()
	}
	body := map[string]string{
		"category":    categoryLinear,
		"symbol":      o.Symbol,
		"side":        o.Side,
		"orderType":   "Market",
		"qty":         o.Qty,
		"orderLinkId": o.LinkID,
	}
	if o.TakeProfit != "" {
		body["takeProfit"] = o.TakeProfit
	}
	if o.StopLoss != "" {
		body["stopLoss"] = o.StopLoss
	}

	env, err := c.post(ctx, createOrderEndpoint, body)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("create order: %w", err)
	}
	if env.RetCode != 0 {
		return PlacedOrder{}, &APIError{Op: "create order", Code: env.RetCode, Msg: env.RetMsg}
	}

	var placed PlacedOrder
	if err := json.Unmarshal(env.Result, &placed); err != nil || placed.OrderID == "" {
		return PlacedOrder{}, fmt.Errorf("create order: %w: response did not include an orderId", ErrUpstream)
	}
	if placed.OrderLinkID == "" {
		placed.OrderLinkID = o.LinkID
	}
	return placed, nil
}

type walletResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
		} `json:"coin"`
	} `json:"list"`
}

// WalletBalance returns the USDT wallet balance of the CONTRACT account.
// A missing USDT entry reads as zero.
func (c *Client) WalletBalance(ctx context.Context) (decimal.Decimal, error) {
	const query = "accountType=CONTRACT"
	env, err := c.do(ctx, http.MethodGet, walletBalanceEndpoint+"?"+query, query, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("wallet balance: %w", err)
	}
	if env.RetCode != 0 {
		return decimal.Zero, &APIError{Op: "get balance", Code: env.RetCode, Msg: env.RetMsg}
	}

	var res walletResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return decimal.Zero, fmt.Errorf("wallet balance: decode: %w", err)
	}
	for _, acc := range res.List {
		if acc.AccountType != "CONTRACT" {
			continue
		}
		for _, coin := range acc.Coin {
			if coin.Coin != "USDT" {
				continue
			}
			if coin.WalletBalance == "" {
				return decimal.Zero, nil
			}
			bal, err := decimal.NewFromString(coin.WalletBalance)
			if err != nil {
				return decimal.Zero, fmt.Errorf("wallet balance: %w: invalid balance %q", ErrUpstream, coin.WalletBalance)
			}
			return bal, nil
		}
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("wallet balance: %w: CONTRACT account not found", ErrUpstream)
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return envelope{}, err
	}
	return c.do(ctx, http.MethodPost, endpoint, string(payload), payload)
}

// do sends a signed request. signed is the request body for POST and the
// raw query string for GET.
func (c *Client) do(ctx context.Context, method, pathAndQuery, signed string, body []byte) (envelope, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, rd)
	if err != nil {
		return envelope{}, err
	}

	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-BAPI-API-KEY", c.creds.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", Sign(c.creds.APISecret, ts, c.creds.APIKey, c.recvWindow, signed))
	if c.creds.Demo() {
		req.Header.Set("X-BAPI-DEMO-TRADING", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("read body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return envelope{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
		}
		return envelope{}, fmt.Errorf("decode: %w", err)
	}
	return env, nil
}

// Sign returns hex(HMAC-SHA256(secret, timestamp+apiKey+recvWindow+payload)).
func Sign(secret, timestamp, apiKey, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}
