package pipeline

import (
	"time"

	"coinchart/internal/model"
)

// Viewport is the scrollable window of a chart.
type Viewport interface {
	// VisibleRange returns the visible time bounds; false when nothing is shown yet.
	VisibleRange() (model.TimeRange, bool)
	VisibleLogicalRange() (model.LogicalRange, bool)
	SetVisibleRange(r model.TimeRange)
	// OnVisibleRangeChanged registers fn and returns a function that removes it.
	OnVisibleRangeChanged(fn func(model.LogicalRange)) (unsubscribe func())
}

// Renderer draws the series and the pipeline status.
type Renderer interface {
	SetData(candles []model.Candle)
	UpdateBar(c model.Candle)
	FitContent()
	SetStatus(s Status)
}

// Status is what the viewer is told about the pipeline.
type Status struct {
	State          string `json:"state"`
	Error          string `json:"error,omitempty"`
	LoadingHistory bool   `json:"loadingHistory"`
}

// Clock abstracts time for the live ticker.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the orchestrator needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return systemTicker{time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// Metrics receives pipeline counters. All methods must be cheap and
// non-blocking; they are called from the reconciliation goroutine.
type Metrics interface {
	PageFetched(kind string, bars int)
	StaleDropped(kind string)
	Sampled(outcome string)
	BarAppended()
	SelectionReset()
}

type noopMetrics struct{}

func (noopMetrics) PageFetched(string, int) {}
func (noopMetrics) StaleDropped(string)     {}
func (noopMetrics) Sampled(string)          {}
func (noopMetrics) BarAppended()            {}
func (noopMetrics) SelectionReset()         {}
