package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinchart/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 200, cfg.MarketData.PageSize)
	assert.Equal(t, 2*time.Second, cfg.Live.Interval)
	assert.Equal(t, 10.0, cfg.Live.EdgeBuffer)
	assert.Equal(t, []string{"BTC", "ETH", "SOL", "DOGE", "XRP"}, cfg.Coins)
	assert.Equal(t, model.Selection{Coin: "BTC", Timeframe: model.TF4H}, cfg.DefaultSelection())
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coinchart.yaml")
	yml := `
server:
  addr: ":7000"
market_data:
  page_size: 500
live:
  interval: 5s
coins: [btc, eth]
default_coin: eth
default_timeframe: 1h
notify:
  webhook_url: http://hooks.local/a
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("SERVER_ADDR", ":7100")
	t.Setenv("TELEGRAM_CHAT_ID", "42")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7100", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, 500, cfg.MarketData.PageSize)
	assert.Equal(t, 5*time.Second, cfg.Live.Interval)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Coins)
	assert.Equal(t, model.TF1H, cfg.DefaultSelection().Timeframe)
	assert.Equal(t, "http://hooks.local/a", cfg.Notify.WebhookURL)
	assert.Equal(t, "42", cfg.Notify.TelegramChatID)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.MarketData.PageSize = 5000
	assert.Error(t, cfg.Validate())
	cfg.MarketData.PageSize = 200

	cfg.DefaultTimeframe = "2m"
	assert.ErrorIs(t, cfg.Validate(), model.ErrUnsupportedTimeframe)
	cfg.DefaultTimeframe = "4H"

	cfg.DefaultCoin = "PEPE"
	assert.Error(t, cfg.Validate())
}
