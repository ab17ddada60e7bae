package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"coinchart/internal/marketdata/livesample"
	"coinchart/internal/model"
	"coinchart/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// HubConfig wires the market data shared by every session.
type HubConfig struct {
	Fetcher pipeline.PageFetcher
	Prices  livesample.PriceSource
	Metrics pipeline.Metrics
	Clock   pipeline.Clock
	Options pipeline.Options

	Coins   []string
	Default model.Selection

	// OnSessions is told about every connect (+1) and disconnect (-1).
	OnSessions func(delta int)
	// OnSample is told when a live bar reaches a viewer.
	OnSample func(t time.Time)
}

// Hub owns the chart sessions. Each session runs its own pipeline.
type Hub struct {
	cfg   HubConfig
	coins map[string]bool

	mu       sync.RWMutex
	sessions map[*Session]bool
	wg       sync.WaitGroup
}

// NewHub creates a Hub.
func NewHub(cfg HubConfig) *Hub {
	coins := make(map[string]bool, len(cfg.Coins))
	for _, c := range cfg.Coins {
		coins[c] = true
	}
	return &Hub{
		cfg:      cfg,
		coins:    coins,
		sessions: make(map[*Session]bool),
	}
}

// ServeWS upgrades r and attaches a session that lives until the peer
// disconnects or ctx is cancelled.
func (h *Hub) ServeWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("[gateway] ws upgrade error")
		return
	}
	h.Attach(ctx, conn)
}

// Attach starts a session on conn with the default selection.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn) *Session {
	id := uuid.NewString()
	logger := log.With().Str("session", id).Logger()
	s := newSession(id, conn, h, logger)

	sctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.orch = pipeline.New(pipeline.Deps{
		Fetcher:  h.cfg.Fetcher,
		Prices:   h.cfg.Prices,
		Viewport: s,
		Renderer: s,
		Clock:    h.cfg.Clock,
		Metrics:  h.cfg.Metrics,
		Logger:   logger,
	}, h.cfg.Options)

	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.sessions[s] = true
	count := len(h.sessions)
	h.mu.Unlock()
	if h.cfg.OnSessions != nil {
		h.cfg.OnSessions(1)
	}
	logger.Info().Int("total", count).Msg("[gateway] session connected")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.orch.Run(sctx)
		h.remove(s)
	}()
	go s.writePump()
	go s.readPump()

	if h.cfg.Default.Coin != "" {
		s.orch.Select(h.cfg.Default)
	}
	return s
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s]
	delete(h.sessions, s)
	count := len(h.sessions)
	h.mu.Unlock()
	if !ok {
		return
	}

	s.cancel()
	s.closeSend()
	if h.cfg.OnSessions != nil {
		h.cfg.OnSessions(-1)
	}
	s.log.Info().Int("total", count).Msg("[gateway] session disconnected")
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Wait blocks until every session pipeline has stopped.
func (h *Hub) Wait() { h.wg.Wait() }

func (h *Hub) allowCoin(coin string) bool {
	if coin == "" {
		return false
	}
	return len(h.coins) == 0 || h.coins[coin]
}

func (h *Hub) sampled() {
	if h.cfg.OnSample != nil {
		h.cfg.OnSample(time.Now())
	}
}
