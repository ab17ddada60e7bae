// Package trade turns an analysis signal into a market order on the
// exchange and keeps the wallet balance fresh.
package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"coinchart/internal/exchange/bybit"
	"coinchart/internal/model"
	"coinchart/internal/notification"
)

var (
	ErrNoCredentials       = errors.New("exchange credentials are not configured")
	ErrHoldSignal          = errors.New("a Hold signal cannot be traded")
	ErrInvalidEntryPrice   = errors.New("invalid entry price from signal, cannot calculate quantity")
	ErrQuantityTooSmall    = errors.New("order quantity rounds to zero")
	ErrConfirmationInvalid = errors.New("invalid or missing confirmation code")
)

// Exchange is the subset of the exchange client used for trading.
type Exchange interface {
	Demo() bool
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, o bybit.Order) (bybit.PlacedOrder, error)
	WalletBalance(ctx context.Context) (decimal.Decimal, error)
}

// Dialer builds an exchange client for the stored credentials.
type Dialer func(creds model.Credentials) (Exchange, error)

// CredentialStore reads the saved exchange credentials.
type CredentialStore interface {
	Credentials(ctx context.Context) (model.Credentials, bool, error)
}

// Journal records placed orders.
type Journal interface {
	Record(ctx context.Context, r model.OrderRecord) (int64, error)
}

// Metrics counts trading outcomes.
type Metrics interface {
	OrderPlaced(side, mode string)
	OrderFailed()
}

type noopMetrics struct{}

func (noopMetrics) OrderPlaced(string, string) {}
func (noopMetrics) OrderFailed()               {}

// Request is a trade derived from a signal.
type Request struct {
	Coin       string  `json:"coin" validate:"required,alphanum,max=10"`
	Action     string  `json:"action" validate:"required,oneof=Long Short Buy Sell Hold"`
	Margin     float64 `json:"margin" validate:"gt=0"`
	Leverage   int     `json:"leverage" validate:"gt=0,lte=200"`
	EntryPrice string  `json:"entryPrice" validate:"required"`
	TakeProfit string  `json:"takeProfit"`
	StopLoss   string  `json:"stopLoss"`
	Code       string  `json:"code,omitempty"`
}

// Receipt describes an accepted order.
type Receipt struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Qty         string `json:"qty"`
	Mode        string `json:"mode"`
	JournalID   int64  `json:"journalId"`
}

// Balance is the last known USDT wallet balance.
type Balance struct {
	Amount    decimal.Decimal `json:"amount"`
	Formatted string          `json:"formatted"`
	Mode      string          `json:"mode"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Deps are the collaborators of a Service.
type Deps struct {
	Credentials CredentialStore
	Journal     Journal
	Dial        Dialer
	Metrics     Metrics
	Notifier    notification.Notifier // optional
	TOTPSecret  string
}

// Service places orders and caches the wallet balance.
type Service struct {
	creds      CredentialStore
	journal    Journal
	dial       Dialer
	metrics    Metrics
	notifier   notification.Notifier
	totpSecret string
	validate   *validator.Validate
	now        func() time.Time

	mu      sync.RWMutex
	balance Balance
	hasBal  bool
}

// New returns a Service.
func New(deps Deps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	return &Service{
		creds:      deps.Credentials,
		journal:    deps.Journal,
		dial:       deps.Dial,
		metrics:    deps.Metrics,
		notifier:   deps.Notifier,
		totpSecret: deps.TOTPSecret,
		validate:   validator.New(),
		now:        time.Now,
	}
}

// ConfirmationRequired reports whether trades need a TOTP code.
func (s *Service) ConfirmationRequired() bool { return s.totpSecret != "" }

// Place validates req, sets leverage, submits a market order and journals it.
func (s *Service) Place(ctx context.Context, req Request) (Receipt, error) {
	req.Coin = strings.ToUpper(strings.TrimSpace(req.Coin))
	if err := s.validate.Struct(req); err != nil {
		return Receipt{}, fmt.Errorf("invalid trade request: %w", err)
	}
	if req.Action == "Hold" {
		return Receipt{}, ErrHoldSignal
	}
	if s.totpSecret != "" && !totp.Validate(strings.TrimSpace(req.Code), s.totpSecret) {
		return Receipt{}, ErrConfirmationInvalid
	}

	entry, ok := ParsePrice(req.EntryPrice)
	if !ok {
		return Receipt{}, ErrInvalidEntryPrice
	}
	qty := Quantity(req.Coin, decimal.NewFromFloat(req.Margin), req.Leverage, entry)
	if !qty.IsPositive() {
		return Receipt{}, ErrQuantityTooSmall
	}

	ex, mode, err := s.exchange(ctx)
	if err != nil {
		return Receipt{}, err
	}

	order := bybit.Order{
		Symbol:     req.Coin + "USDT",
		Side:       Side(req.Action),
		Qty:        qty.StringFixed(precision(req.Coin)),
		TakeProfit: optionalPrice(req.TakeProfit),
		StopLoss:   optionalPrice(req.StopLoss),
	}

	if err := ex.SetLeverage(ctx, order.Symbol, req.Leverage); err != nil {
		s.failed(order, mode, err)
		return Receipt{}, err
	}
	placed, err := ex.PlaceMarketOrder(ctx, order)
	if err != nil {
		s.failed(order, mode, err)
		return Receipt{}, err
	}
	s.metrics.OrderPlaced(order.Side, mode)
	s.notify(notification.Alert{
		Level:   notification.AlertInfo,
		Title:   "Order placed",
		Message: fmt.Sprintf("%s %s %s at %dx (%s), order %s", order.Side, order.Qty, order.Symbol, req.Leverage, mode, placed.OrderID),
	})

	rec := Receipt{
		OrderID:     placed.OrderID,
		OrderLinkID: placed.OrderLinkID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Qty:         order.Qty,
		Mode:        mode,
	}
	log.Info().Str("order_id", rec.OrderID).Str("symbol", rec.Symbol).Str("side", rec.Side).
		Str("qty", rec.Qty).Int("leverage", req.Leverage).Str("mode", mode).Msg("[trade] order placed")

	id, err := s.journal.Record(ctx, model.OrderRecord{
		OrderID:     placed.OrderID,
		OrderLinkID: placed.OrderLinkID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Qty:         order.Qty,
		Leverage:    req.Leverage,
		EntryPrice:  entry.String(),
		TakeProfit:  order.TakeProfit,
		StopLoss:    order.StopLoss,
		Mode:        mode,
		CreatedAt:   s.now(),
	})
	if err != nil {
		// The order is live; a journal failure must not hide that.
		log.Error().Err(err).Str("order_id", placed.OrderID).Msg("[trade] journal write failed")
	}
	rec.JournalID = id

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := s.RefreshBalance(ctx); err != nil {
			log.Warn().Err(err).Msg("[trade] balance refresh after order failed")
		}
	}()
	return rec, nil
}

// RefreshBalance fetches the wallet balance and caches it.
func (s *Service) RefreshBalance(ctx context.Context) (Balance, error) {
	ex, mode, err := s.exchange(ctx)
	if err != nil {
		return Balance{}, err
	}
	amount, err := ex.WalletBalance(ctx)
	if err != nil {
		return Balance{}, err
	}
	b := Balance{Amount: amount, Formatted: FormatAmount(amount), Mode: mode, UpdatedAt: s.now()}

	s.mu.Lock()
	s.balance, s.hasBal = b, true
	s.mu.Unlock()
	return b, nil
}

// Balance returns the cached balance, if any.
func (s *Service) Balance() (Balance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance, s.hasBal
}

// ClearBalance forgets the cached balance, e.g. after credentials are removed.
func (s *Service) ClearBalance() {
	s.mu.Lock()
	s.balance, s.hasBal = Balance{}, false
	s.mu.Unlock()
}

func (s *Service) failed(o bybit.Order, mode string, err error) {
	s.metrics.OrderFailed()
	s.notify(notification.Alert{
		Level:   notification.AlertWarning,
		Title:   "Order failed",
		Message: fmt.Sprintf("%s %s %s (%s): %v", o.Side, o.Qty, o.Symbol, mode, err),
	})
}

// notify sends a in the background.
func (s *Service) notify(a notification.Alert) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, a); err != nil {
			log.Warn().Err(err).Str("title", a.Title).Msg("[trade] alert delivery failed")
		}
	}()
}

func (s *Service) exchange(ctx context.Context) (Exchange, string, error) {
	creds, ok, err := s.creds.Credentials(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("load credentials: %w", err)
	}
	if !ok {
		return nil, "", ErrNoCredentials
	}
	ex, err := s.dial(creds)
	if err != nil {
		return nil, "", err
	}
	mode := model.TradeModeLive
	if ex.Demo() {
		mode = model.TradeModeDemo
	}
	return ex, mode, nil
}
