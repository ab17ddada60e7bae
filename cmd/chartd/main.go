// Command chartd serves live candlestick charts for crypto coins over
// WebSocket, plus the REST API for history pages, AI signals and trading.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"coinchart/config"
	"coinchart/internal/analysis"
	"coinchart/internal/exchange/bybit"
	"coinchart/internal/gateway"
	"coinchart/internal/logger"
	"coinchart/internal/marketdata/history"
	"coinchart/internal/marketdata/livesample"
	"coinchart/internal/marketdata/provider"
	"coinchart/internal/metrics"
	"coinchart/internal/model"
	"coinchart/internal/notification"
	"coinchart/internal/pipeline"
	"coinchart/internal/scheduler"
	redisstore "coinchart/internal/store/redis"
	sqlitestore "coinchart/internal/store/sqlite"
	"coinchart/internal/trade"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_PATH", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Init("chartd", logger.ParseLevel("info"))
		log.Fatal().Err(err).Msg("[chartd] config load failed")
	}
	logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("[chartd] invalid config")
	}
	log.Info().Str("addr", cfg.Server.Addr).Strs("coins", cfg.Coins).Msg("[chartd] starting...")

	// ---- Metrics and health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.New(reg)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, reg, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite: settings and order journal ----
	if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	db, err := sqlitestore.Open(cfg.SQLite.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SQLite.Path).Msg("[chartd] sqlite init failed")
	}
	defer db.Close()
	health.SetSQLiteOK(true)
	settings := db.Settings()
	journal := db.Journal()

	notifier := notification.FromConfig(notification.Config{
		TelegramToken:  cfg.Notify.TelegramToken,
		TelegramChatID: cfg.Notify.TelegramChatID,
		WebhookURL:     cfg.Notify.WebhookURL,
	})

	// ---- Market data ----
	breaker := provider.NewBreaker(5, 30*time.Second)
	breaker.OnStateChange = func(from, to provider.State) {
		prom.BreakerChanged(int(to))
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("[chartd] market data breaker")
		if to == provider.StateOpen {
			go notifier.Send(context.Background(), notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "Market data unavailable",
				Message: "CryptoCompare requests are failing; charts pause until the breaker closes.",
			})
		}
	}
	cc := provider.New(provider.Config{
		BaseURL: cfg.MarketData.BaseURL,
		APIKey:  cfg.MarketData.APIKey,
		Quote:   cfg.MarketData.Quote,
		Timeout: cfg.MarketData.Timeout,
		Observe: prom.ObserveUpstream,
	}, breaker)

	var (
		pages  history.Source         = cc
		prices livesample.PriceSource = cc
		rdb    *goredis.Client
	)
	if cfg.Redis.Addr != "" {
		health.SetRedisEnabled(true)
		rdb, err = redisstore.NewClient(redisstore.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			log.Warn().Err(err).Msg("[chartd] redis unavailable, continuing without cache")
		} else {
			defer rdb.Close()
			pages = redisstore.NewPageCache(rdb, cc, cfg.Redis.PageTTL, prom)
			prices = redisstore.NewPriceCache(rdb, cc, cfg.Redis.PriceTTL, prom)
		}
	}
	health.StartLivenessChecker(ctx, rdb, db.SQL(), 10*time.Second)
	fetcher := history.NewFetcher(pages, cfg.MarketData.PageSize)

	// ---- Trading and analysis ----
	exchangeCfg := bybit.Config{
		BaseURL:    cfg.Exchange.BaseURL,
		DemoURL:    cfg.Exchange.DemoURL,
		RecvWindow: cfg.Exchange.RecvWindow,
	}
	trader := trade.New(trade.Deps{
		Credentials: settings,
		Journal:     journal,
		Dial: func(creds model.Credentials) (trade.Exchange, error) {
			c, err := bybit.New(exchangeCfg, creds)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Metrics:    prom,
		Notifier:   notifier,
		TOTPSecret: cfg.Trade.TOTPSecret,
	})
	analyzer := analysis.New(analysis.Config{
		BaseURL: cfg.Analysis.BaseURL,
		APIKey:  cfg.Analysis.APIKey,
		Model:   cfg.Analysis.Model,
	})
	if !analyzer.Configured() {
		log.Warn().Msg("[chartd] GEMINI_API_KEY not set, analysis disabled")
	}

	sched := scheduler.New(ctx, scheduler.Config{
		BalanceCron:      cfg.Schedule.BalanceCron,
		JournalPruneCron: cfg.Schedule.JournalPruneCron,
		Retention:        time.Duration(cfg.Schedule.JournalRetention) * 24 * time.Hour,
	}, trader, journal)
	if err := sched.RegisterAll(); err != nil {
		log.Fatal().Err(err).Msg("[chartd] scheduler init failed")
	}
	sched.Start()
	go sched.RefreshBalanceNow()

	// ---- Chart sessions and HTTP ----
	hub := gateway.NewHub(gateway.HubConfig{
		Fetcher: fetcher,
		Prices:  prices,
		Metrics: prom,
		Options: pipeline.Options{LiveInterval: cfg.Live.Interval, EdgeBuffer: cfg.Live.EdgeBuffer},
		Coins:   cfg.Coins,
		Default: cfg.DefaultSelection(),
		OnSessions: func(delta int) {
			prom.SessionsChanged(delta)
			health.AddSessions(delta)
		},
		OnSample: health.SetLastSampleAt,
	})

	mux := http.NewServeMux()
	gateway.RegisterRoutes(ctx, mux, &gateway.API{
		Hub:      hub,
		Fetcher:  fetcher,
		Prices:   prices,
		Analyzer: analyzer,
		Settings: settings,
		Trader:   trader,
		Orders:   journal,
		Health:   health,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("[chartd] serving")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("[chartd] server error")
		}
	}()

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Info().Msg("[chartd] shutting down...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	hub.Wait()
	sched.Stop()
	metricsSrv.Stop(shutdownCtx)
	log.Info().Msg("[chartd] stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
