package metrics

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds all Prometheus collectors of the chart server.
type Metrics struct {
	PagesFetched   *prometheus.CounterVec // labels: kind=initial|backfill
	BarsFetched    *prometheus.CounterVec // labels: kind
	StaleResponses *prometheus.CounterVec // labels: kind=initial|backfill|sample
	Samples        *prometheus.CounterVec // labels: outcome=applied|skipped|rejected|busy
	BarsAppended   prometheus.Counter
	Resets         prometheus.Counter

	UpstreamDur    *prometheus.HistogramVec // labels: endpoint
	UpstreamErrors *prometheus.CounterVec   // labels: endpoint
	CacheLookups   *prometheus.CounterVec   // labels: cache, result=hit|miss

	ActiveSessions prometheus.Gauge
	BreakerState   prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips   prometheus.Counter

	OrdersPlaced *prometheus.CounterVec // labels: side, mode
	OrderErrors  prometheus.Counter
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinchart_pages_fetched_total",
			Help: "History pages applied to a series",
		}, []string{"kind"}),
		BarsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinchart_bars_fetched_total",
			Help: "Bars added to a series from history pages",
		}, []string{"kind"}),
		StaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinchart_stale_responses_total",
			Help: "Completions dropped because the selection changed",
		}, []string{"kind"}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinchart_live_samples_total",
			Help: "Live price samples by outcome",
		}, []string{"outcome"}),
		BarsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinchart_live_bars_appended_total",
			Help: "New bars started by live sampling",
		}),
		Resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinchart_selection_resets_total",
			Help: "Pipeline resets caused by selection changes",
		}),
		UpstreamDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coinchart_upstream_request_duration_seconds",
			Help:    "Market data API latency",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinchart_upstream_errors_total",
			Help: "Market data API failures",
		}, []string{"endpoint"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinchart_cache_lookups_total",
			Help: "Redis cache lookups",
		}, []string{"cache", "result"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinchart_active_sessions",
			Help: "Connected chart sessions",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinchart_upstream_circuit_breaker_state",
			Help: "Market data circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinchart_upstream_circuit_breaker_trips_total",
			Help: "Times the market data circuit breaker tripped open",
		}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinchart_orders_placed_total",
			Help: "Orders accepted by the exchange",
		}, []string{"side", "mode"}),
		OrderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinchart_order_errors_total",
			Help: "Orders rejected or failed",
		}),
	}

	reg.MustRegister(
		m.PagesFetched,
		m.BarsFetched,
		m.StaleResponses,
		m.Samples,
		m.BarsAppended,
		m.Resets,
		m.UpstreamDur,
		m.UpstreamErrors,
		m.CacheLookups,
		m.ActiveSessions,
		m.BreakerState,
		m.BreakerTrips,
		m.OrdersPlaced,
		m.OrderErrors,
	)
	return m
}

// PageFetched counts an applied history page.
func (m *Metrics) PageFetched(kind string, bars int) {
	m.PagesFetched.WithLabelValues(kind).Inc()
	m.BarsFetched.WithLabelValues(kind).Add(float64(bars))
}

func (m *Metrics) StaleDropped(kind string) { m.StaleResponses.WithLabelValues(kind).Inc() }

func (m *Metrics) Sampled(outcome string) { m.Samples.WithLabelValues(outcome).Inc() }

func (m *Metrics) BarAppended() { m.BarsAppended.Inc() }

func (m *Metrics) SelectionReset() { m.Resets.Inc() }

// ObserveUpstream records one market data request.
func (m *Metrics) ObserveUpstream(endpoint string, elapsed time.Duration, err error) {
	m.UpstreamDur.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	if err != nil {
		m.UpstreamErrors.WithLabelValues(endpoint).Inc()
	}
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

// BreakerChanged tracks circuit breaker transitions. State values follow
// 0=closed, 1=open, 2=half-open.
func (m *Metrics) BreakerChanged(to int) {
	m.BreakerState.Set(float64(to))
	if to == 1 {
		m.BreakerTrips.Inc()
	}
}

// OrderPlaced counts an accepted order.
func (m *Metrics) OrderPlaced(side, mode string) { m.OrdersPlaced.WithLabelValues(side, mode).Inc() }

// OrderFailed counts a failed order.
func (m *Metrics) OrderFailed() { m.OrderErrors.Inc() }

// SessionsChanged moves the active session gauge.
func (m *Metrics) SessionsChanged(delta int) { m.ActiveSessions.Add(float64(delta)) }

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Sessions       int       `json:"sessions"`
	LastSampleAt   time.Time `json:"last_sample_at"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) AddSessions(delta int) {
	h.mu.Lock()
	h.Sessions += delta
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleAt(t time.Time) {
	h.mu.Lock()
	h.LastSampleAt = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil
// when the cache is disabled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles /healthz. SQLite is required; Redis only degrades
// the status because the caches are optional.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if h.RedisEnabled && !h.RedisConnected {
		overallStatus = "degraded"
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	sampleAge := ""
	if !h.LastSampleAt.IsZero() {
		sampleAge = time.Since(h.LastSampleAt).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Sessions        int     `json:"sessions"`
		SampleAge       string  `json:"sample_age"`
		RedisEnabled    bool    `json:"redis_enabled"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Sessions:        h.Sessions,
		SampleAge:       sampleAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates a metrics and health server over gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.addr).Msg("[metrics] server listening")
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("[metrics] server error")
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
