package gateway

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"coinchart/internal/model"
	"coinchart/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
	readLimit  = 4096
)

// Session is one chart connection. It is the display surface of its own
// pipeline: the browser reports its visible range, and the pipeline's
// render calls are forwarded as JSON messages.
type Session struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	orch   *pipeline.Orchestrator
	log    zerolog.Logger
	cancel context.CancelFunc

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	viewMu     sync.Mutex
	visible    model.TimeRange
	hasVisible bool
	logical    model.LogicalRange
	hasLogical bool
	listeners  map[int]func(model.LogicalRange)
	nextID     int
}

func newSession(id string, conn *websocket.Conn, hub *Hub, log zerolog.Logger) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		hub:       hub,
		log:       log,
		send:      make(chan []byte, sendBuffer),
		listeners: make(map[int]func(model.LogicalRange)),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Snapshot returns the pipeline state of the session.
func (s *Session) Snapshot() pipeline.State { return s.orch.Snapshot() }

// VisibleRange implements pipeline.Viewport.
func (s *Session) VisibleRange() (model.TimeRange, bool) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.visible, s.hasVisible
}

// VisibleLogicalRange implements pipeline.Viewport.
func (s *Session) VisibleLogicalRange() (model.LogicalRange, bool) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.logical, s.hasLogical
}

// SetVisibleRange implements pipeline.Viewport.
func (s *Session) SetVisibleRange(r model.TimeRange) {
	s.viewMu.Lock()
	s.visible, s.hasVisible = r, true
	s.viewMu.Unlock()
	s.enqueue(setRangeMsg{Type: "setRange", From: r.From, To: r.To})
}

// OnVisibleRangeChanged implements pipeline.Viewport.
func (s *Session) OnVisibleRangeChanged(fn func(model.LogicalRange)) func() {
	s.viewMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.viewMu.Unlock()

	return func() {
		s.viewMu.Lock()
		delete(s.listeners, id)
		s.viewMu.Unlock()
	}
}

// SetData implements pipeline.Renderer.
func (s *Session) SetData(candles []model.Candle) {
	if len(candles) == 0 {
		s.viewMu.Lock()
		s.hasVisible, s.hasLogical = false, false
		s.viewMu.Unlock()
		candles = []model.Candle{}
	}
	s.enqueue(dataMsg{Type: "data", Candles: candles})
}

// UpdateBar implements pipeline.Renderer.
func (s *Session) UpdateBar(c model.Candle) {
	s.enqueue(barMsg{Type: "bar", Candle: c})
	s.hub.sampled()
}

// FitContent implements pipeline.Renderer.
func (s *Session) FitContent() { s.enqueue(fitMsg{Type: "fit"}) }

// SetStatus implements pipeline.Renderer.
func (s *Session) SetStatus(st pipeline.Status) {
	s.enqueue(statusMsg{Type: "status", Status: st})
}

// rangeChanged records a viewer report and notifies listeners.
func (s *Session) rangeChanged(tr model.TimeRange, lr model.LogicalRange) {
	s.viewMu.Lock()
	if tr.To > 0 {
		s.visible, s.hasVisible = tr, true
	}
	s.logical, s.hasLogical = lr, true
	fns := make([]func(model.LogicalRange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.viewMu.Unlock()

	for _, fn := range fns {
		fn(lr)
	}
}

// enqueue marshals v and queues it for the write pump. A client that
// cannot keep up is disconnected.
func (s *Session) enqueue(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("[gateway] marshal error")
		return
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		s.log.Warn().Msg("[gateway] send buffer full, closing slow session")
		s.closed = true
		close(s.send)
	}
}

func (s *Session) closeSend() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := s.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(s.send)
			for i := 0; i < n; i++ {
				next, ok := <-s.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) readPump() {
	defer func() {
		s.cancel()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("[gateway] read error")
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Debug().Err(err).Msg("[gateway] bad message")
			continue
		}

		switch msg.Type {
		case "select":
			s.handleSelect(msg)
		case "range":
			s.rangeChanged(
				model.TimeRange{From: msg.From, To: msg.To},
				model.LogicalRange{From: msg.LogicalFrom, To: msg.LogicalTo},
			)
		default:
			if msg.Ping > 0 || msg.Type == "ping" {
				s.enqueue(pongMsg{Type: "pong", Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
			}
		}
	}
}

func (s *Session) handleSelect(msg inbound) {
	tf, err := model.ParseTimeframe(msg.Timeframe)
	if err != nil {
		s.enqueue(statusMsg{Type: "status", Status: pipeline.Status{State: "error", Error: err.Error()}})
		return
	}
	sel := model.Selection{Coin: msg.Coin, Timeframe: tf}.Normalize()
	if !s.hub.allowCoin(sel.Coin) {
		s.enqueue(statusMsg{Type: "status", Status: pipeline.Status{State: "error", Error: "unsupported coin " + sel.Coin}})
		return
	}
	s.log.Debug().Str("coin", sel.Coin).Str("tf", string(tf)).Msg("[gateway] select")
	s.orch.Select(sel)
}
