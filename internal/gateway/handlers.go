package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"coinchart/internal/analysis"
	"coinchart/internal/exchange/bybit"
	"coinchart/internal/logger"
	"coinchart/internal/marketdata/history"
	"coinchart/internal/marketdata/livesample"
	"coinchart/internal/marketdata/provider"
	"coinchart/internal/model"
	"coinchart/internal/pipeline"
	"coinchart/internal/trade"
)

// Analyzer produces trading signals.
type Analyzer interface {
	Configured() bool
	Analyze(ctx context.Context, req analysis.Request) (analysis.Result, error)
}

// SettingsStore persists viewer preferences and exchange credentials.
type SettingsStore interface {
	Theme(ctx context.Context) (model.Theme, error)
	SetTheme(ctx context.Context, t model.Theme) error
	Credentials(ctx context.Context) (model.Credentials, bool, error)
	SaveCredentials(ctx context.Context, creds model.Credentials) error
	DeleteCredentials(ctx context.Context) error
}

// Trader places orders and tracks the wallet balance.
type Trader interface {
	ConfirmationRequired() bool
	Place(ctx context.Context, req trade.Request) (trade.Receipt, error)
	Balance() (trade.Balance, bool)
	RefreshBalance(ctx context.Context) (trade.Balance, error)
	ClearBalance()
}

// OrderLog lists journaled orders.
type OrderLog interface {
	Recent(ctx context.Context, limit int) ([]model.OrderRecord, error)
}

// API holds the collaborators of the REST routes.
type API struct {
	Hub      *Hub
	Fetcher  pipeline.PageFetcher
	Prices   livesample.PriceSource
	Analyzer Analyzer
	Settings SettingsStore
	Trader   Trader
	Orders   OrderLog
	Health   http.Handler

	validate *validator.Validate
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux. Sessions
// opened on /ws live until ctx is cancelled.
func RegisterRoutes(ctx context.Context, mux *http.ServeMux, api *API) {
	if api.validate == nil {
		api.validate = validator.New()
	}

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		api.Hub.ServeWS(ctx, w, r)
	})

	mux.HandleFunc("/api/timeframes", rest(http.MethodGet, api.timeframes))
	mux.HandleFunc("/api/coins", rest(http.MethodGet, api.coins))
	mux.HandleFunc("/api/candles", rest(http.MethodGet, api.candles))
	mux.HandleFunc("/api/price", rest(http.MethodGet, api.price))
	mux.HandleFunc("/api/analysis", rest(http.MethodPost, api.analyze))
	mux.HandleFunc("/api/settings/credentials", rest("GET PUT DELETE", api.credentials))
	mux.HandleFunc("/api/settings/theme", rest("GET PUT", api.theme))
	mux.HandleFunc("/api/balance", rest(http.MethodGet, api.balance))
	mux.HandleFunc("/api/trade", rest(http.MethodPost, api.placeTrade))
	mux.HandleFunc("/api/trades", rest(http.MethodGet, api.trades))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if api.Health != nil {
			api.Health.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": api.Hub.SessionCount()})
	})
}

// rest wraps a handler with CORS, preflight and method checks. methods is
// a space separated list.
func rest(methods string, h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	allowed := strings.Fields(methods)
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		for _, m := range allowed {
			if r.Method == m {
				traceID := logger.GenerateTraceID("req", time.Now())
				w.Header().Set("X-Trace-Id", traceID)
				h(w, r.WithContext(logger.WithTraceID(r.Context(), traceID)))
				return
			}
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
	}
}

func (a *API) timeframes(w http.ResponseWriter, r *http.Request) {
	tfs := model.AllTimeframes()
	out := make([]TimeframeInfo, len(tfs))
	for i, tf := range tfs {
		out[i] = TimeframeInfo{Value: tf, Label: tf.Label(), Seconds: tf.Seconds()}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) coins(w http.ResponseWriter, r *http.Request) {
	cfg := a.Hub.cfg
	writeJSON(w, http.StatusOK, CoinsResponse{
		Coins:            cfg.Coins,
		DefaultCoin:      cfg.Default.Coin,
		DefaultTimeframe: cfg.Default.Timeframe,
		AnalysisEnabled:  a.Analyzer.Configured(),
		TradeCodeNeeded:  a.Trader.ConfirmationRequired(),
	})
}

func (a *API) candles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coin := strings.ToUpper(strings.TrimSpace(q.Get("coin")))
	if !a.Hub.allowCoin(coin) {
		writeError(w, http.StatusBadRequest, errors.New("unsupported coin"))
		return
	}
	tf, err := model.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var before int64
	if s := q.Get("before"); s != "" {
		before, err = strconv.ParseInt(s, 10, 64)
		if err != nil || before < 0 {
			writeError(w, http.StatusBadRequest, errors.New("before must be a unix timestamp"))
			return
		}
	}

	candles, err := a.Fetcher.FetchPage(r.Context(), model.Selection{Coin: coin, Timeframe: tf}, before)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if candles == nil {
		candles = []model.Candle{}
	}
	writeJSON(w, http.StatusOK, CandlesResponse{Coin: coin, Timeframe: tf, Before: before, Candles: candles})
}

func (a *API) price(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("coin")))
	if !a.Hub.allowCoin(coin) {
		writeError(w, http.StatusBadRequest, errors.New("unsupported coin"))
		return
	}
	p, err := a.Prices.LatestPrice(r.Context(), coin)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, PriceResponse{Coin: coin, Price: p})
}

func (a *API) analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalysisRequest
	if !a.decode(w, r, &req) {
		return
	}
	if tf, err := model.ParseTimeframe(string(req.Timeframe)); err == nil {
		req.Timeframe = tf
	}
	res, err := a.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Str("coin", req.Coin).Msg("[gateway] analysis failed")
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) credentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		creds, ok, err := a.Settings.Credentials(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp := CredentialsResponse{Configured: ok}
		if ok {
			m := creds.Masked()
			resp.Credentials = &m
		}
		writeJSON(w, http.StatusOK, resp)

	case http.MethodPut:
		var creds model.Credentials
		if !a.decode(w, r, &creds) {
			return
		}
		if err := a.validate.Struct(creds); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if creds.TradeMode == "" {
			creds.TradeMode = model.TradeModeLive
		}
		if err := a.Settings.SaveCredentials(ctx, creds); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		log.Info().Str("mode", creds.TradeMode).Msg("[gateway] credentials saved")
		a.refreshBalanceAsync()

		m := creds.Masked()
		writeJSON(w, http.StatusOK, CredentialsResponse{Configured: true, Credentials: &m})

	case http.MethodDelete:
		if err := a.Settings.DeleteCredentials(ctx); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		a.Trader.ClearBalance()
		log.Info().Msg("[gateway] credentials removed")
		writeJSON(w, http.StatusOK, CredentialsResponse{Configured: false})
	}
}

func (a *API) theme(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method == http.MethodPut {
		var body ThemeBody
		if !a.decode(w, r, &body) {
			return
		}
		if !body.Theme.Valid() {
			writeError(w, http.StatusBadRequest, errors.New("theme must be light or dark"))
			return
		}
		if err := a.Settings.SetTheme(ctx, body.Theme); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	t, err := a.Settings.Theme(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ThemeBody{Theme: t})
}

func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	if b, ok := a.Trader.Balance(); ok && r.URL.Query().Get("refresh") == "" {
		writeJSON(w, http.StatusOK, b)
		return
	}
	b, err := a.Trader.RefreshBalance(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) placeTrade(w http.ResponseWriter, r *http.Request) {
	var req trade.Request
	if !a.decode(w, r, &req) {
		return
	}
	rec, err := a.Trader.Place(r.Context(), req)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Str("coin", req.Coin).Str("action", req.Action).Msg("[gateway] trade failed")
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) trades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}
	orders, err := a.Orders.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (a *API) refreshBalanceAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := a.Trader.RefreshBalance(ctx); err != nil {
			log.Warn().Err(err).Msg("[gateway] balance refresh failed")
		}
	}()
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON"))
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr validator.ValidationErrors
	switch {
	case errors.As(err, &verr),
		errors.Is(err, model.ErrUnsupportedTimeframe),
		errors.Is(err, trade.ErrHoldSignal),
		errors.Is(err, trade.ErrInvalidEntryPrice),
		errors.Is(err, trade.ErrQuantityTooSmall):
		return http.StatusBadRequest
	case errors.Is(err, trade.ErrConfirmationInvalid):
		return http.StatusForbidden
	case errors.Is(err, trade.ErrNoCredentials):
		return http.StatusPreconditionFailed
	case errors.Is(err, analysis.ErrNotConfigured),
		errors.Is(err, provider.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, history.ErrDataUnavailable),
		errors.Is(err, provider.ErrUpstream),
		errors.Is(err, bybit.ErrUpstream),
		errors.Is(err, analysis.ErrMalformedResponse),
		errors.Is(err, analysis.ErrEmptyResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("[gateway] write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
