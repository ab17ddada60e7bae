package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"coinchart/internal/model"
)

// Config holds all application configuration. Values come from an optional
// YAML file, then environment overrides, then defaults.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Server struct {
		Addr        string `yaml:"addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`

	MarketData struct {
		BaseURL  string        `yaml:"base_url"`
		APIKey   string        `yaml:"api_key"`
		PageSize int           `yaml:"page_size"`
		Quote    string        `yaml:"quote"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"market_data"`

	Live struct {
		Interval   time.Duration `yaml:"interval"`
		EdgeBuffer float64       `yaml:"edge_buffer"`
	} `yaml:"live"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PriceTTL time.Duration `yaml:"price_ttl"`
		PageTTL  time.Duration `yaml:"page_ttl"`
	} `yaml:"redis"`

	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`

	Exchange struct {
		BaseURL    string `yaml:"base_url"`
		DemoURL    string `yaml:"demo_url"`
		RecvWindow int    `yaml:"recv_window"`
	} `yaml:"exchange"`

	Analysis struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"analysis"`

	Trade struct {
		TOTPSecret string `yaml:"totp_secret"`
	} `yaml:"trade"`

	Notify struct {
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id"`
		WebhookURL     string `yaml:"webhook_url"`
	} `yaml:"notify"`

	Schedule struct {
		BalanceCron      string `yaml:"balance_cron"`
		JournalPruneCron string `yaml:"journal_prune_cron"`
		JournalRetention int    `yaml:"journal_retention_days"`
	} `yaml:"schedule"`

	Coins            []string `yaml:"coins"`
	DefaultCoin      string   `yaml:"default_coin"`
	DefaultTimeframe string   `yaml:"default_timeframe"`
}

// Load reads .env (if present), the YAML file at path (if present), applies
// environment overrides and fills defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Server.MetricsAddr, "METRICS_ADDR")

	setString(&c.MarketData.BaseURL, "MARKET_DATA_URL")
	setString(&c.MarketData.APIKey, "CRYPTOCOMPARE_API_KEY")
	setInt(&c.MarketData.PageSize, "PAGE_SIZE")
	setDuration(&c.Live.Interval, "LIVE_INTERVAL")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.SQLite.Path, "SQLITE_PATH")

	setString(&c.Exchange.BaseURL, "BYBIT_BASE_URL")
	setString(&c.Exchange.DemoURL, "BYBIT_DEMO_URL")

	setString(&c.Analysis.APIKey, "GEMINI_API_KEY")
	setString(&c.Analysis.Model, "GEMINI_MODEL")

	setString(&c.Trade.TOTPSecret, "TRADE_TOTP_SECRET")
	setString(&c.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setString(&c.Notify.WebhookURL, "ALERT_WEBHOOK_URL")
	setString(&c.Schedule.BalanceCron, "BALANCE_CRON")

	if v := os.Getenv("COINS"); v != "" {
		c.Coins = splitList(v)
	}
	setString(&c.DefaultCoin, "DEFAULT_COIN")
	setString(&c.DefaultTimeframe, "DEFAULT_TIMEFRAME")
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.MarketData.BaseURL == "" {
		c.MarketData.BaseURL = "https://min-api.cryptocompare.com"
	}
	if c.MarketData.PageSize == 0 {
		c.MarketData.PageSize = 200
	}
	if c.MarketData.Quote == "" {
		c.MarketData.Quote = "USDT"
	}
	if c.MarketData.Timeout == 0 {
		c.MarketData.Timeout = 10 * time.Second
	}
	if c.Live.Interval == 0 {
		c.Live.Interval = 2 * time.Second
	}
	if c.Live.EdgeBuffer == 0 {
		c.Live.EdgeBuffer = 10
	}
	if c.Redis.PriceTTL == 0 {
		c.Redis.PriceTTL = 2 * time.Second
	}
	if c.Redis.PageTTL == 0 {
		c.Redis.PageTTL = time.Minute
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = "data/coinchart.db"
	}
	if c.Exchange.BaseURL == "" {
		c.Exchange.BaseURL = "https://api.bybit.com"
	}
	if c.Exchange.DemoURL == "" {
		c.Exchange.DemoURL = "https://api-demo.bybit.com"
	}
	if c.Exchange.RecvWindow == 0 {
		c.Exchange.RecvWindow = 5000
	}
	if c.Analysis.BaseURL == "" {
		c.Analysis.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if c.Analysis.Model == "" {
		c.Analysis.Model = "gemini-2.5-flash"
	}
	if c.Schedule.BalanceCron == "" {
		c.Schedule.BalanceCron = "0 * * * * *"
	}
	if c.Schedule.JournalPruneCron == "" {
		c.Schedule.JournalPruneCron = "0 30 3 * * *"
	}
	if c.Schedule.JournalRetention == 0 {
		c.Schedule.JournalRetention = 90
	}
	if len(c.Coins) == 0 {
		c.Coins = []string{"BTC", "ETH", "SOL", "DOGE", "XRP"}
	}
	for i, coin := range c.Coins {
		c.Coins[i] = strings.ToUpper(strings.TrimSpace(coin))
	}
	if c.DefaultCoin == "" {
		c.DefaultCoin = "BTC"
	}
	c.DefaultCoin = strings.ToUpper(c.DefaultCoin)
	if c.DefaultTimeframe == "" {
		c.DefaultTimeframe = string(model.TF4H)
	}
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if c.MarketData.PageSize < 1 || c.MarketData.PageSize > 2000 {
		return fmt.Errorf("market_data.page_size must be within 1..2000, got %d", c.MarketData.PageSize)
	}
	if c.Live.Interval < 100*time.Millisecond {
		return fmt.Errorf("live.interval too small: %s", c.Live.Interval)
	}
	if c.Live.EdgeBuffer < 0 {
		return fmt.Errorf("live.edge_buffer must not be negative")
	}
	if _, err := model.ParseTimeframe(c.DefaultTimeframe); err != nil {
		return fmt.Errorf("default_timeframe: %w", err)
	}
	if !c.HasCoin(c.DefaultCoin) {
		return fmt.Errorf("default_coin %q is not in coins", c.DefaultCoin)
	}
	return nil
}

// HasCoin reports whether coin is one of the configured coins.
func (c *Config) HasCoin(coin string) bool {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	for _, v := range c.Coins {
		if v == coin {
			return true
		}
	}
	return false
}

// DefaultSelection returns the selection a new chart session starts with.
func (c *Config) DefaultSelection() model.Selection {
	tf, err := model.ParseTimeframe(c.DefaultTimeframe)
	if err != nil {
		tf = model.TF4H
	}
	return model.Selection{Coin: c.DefaultCoin, Timeframe: tf}.Normalize()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
