package notification

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `BTCUSDT Buy 0\.015 \(demo\)`, escapeMarkdown("BTCUSDT Buy 0.015 (demo)"))
}

func TestTelegramNotifier_Send(t *testing.T) {
	var path string
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "Order failed", Message: "x-y"}))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
	assert.Contains(t, got["text"], `x\-y`)
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got webhookPayload
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertInfo, Title: "Order placed", Message: "ok"}))
	assert.Equal(t, "Order placed", got.Title)
	assert.NotEmpty(t, got.TS)

	status = http.StatusInternalServerError
	assert.Error(t, n.Send(context.Background(), Alert{Title: "again"}))
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Multi{LogNotifier{}, failing{boom}}.Send(context.Background(), Alert{Title: "t"})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, Multi{LogNotifier{}}.Send(context.Background(), Alert{}))
}

func TestFromConfig(t *testing.T) {
	assert.IsType(t, LogNotifier{}, FromConfig(Config{}))
	assert.IsType(t, LogNotifier{}, FromConfig(Config{TelegramToken: "t"}), "chat id required")

	m, ok := FromConfig(Config{TelegramToken: "t", TelegramChatID: "c", WebhookURL: "http://x"}).(Multi)
	require.True(t, ok)
	assert.Len(t, m, 2)
}
