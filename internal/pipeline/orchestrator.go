// Package pipeline merges the initial history load, backward pagination and
// live price samples for one chart into a single ordered candle series.
//
// All state changes happen on one goroutine (Run). Fetches and samples run
// in short-lived goroutines that post completions back to it; each request
// carries the generation it was issued under, and completions from an older
// generation are dropped.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"coinchart/internal/marketdata/livesample"
	"coinchart/internal/model"
	"coinchart/internal/series"
)

// PageFetcher loads one page of candles ending before `before`
// (0 = most recent page).
type PageFetcher interface {
	FetchPage(ctx context.Context, sel model.Selection, before int64) ([]model.Candle, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Fetcher  PageFetcher
	Prices   livesample.PriceSource
	Viewport Viewport
	Renderer Renderer
	Clock    Clock   // optional, defaults to SystemClock
	Metrics  Metrics // optional
	Logger   zerolog.Logger
}

// Options tune an Orchestrator.
type Options struct {
	LiveInterval time.Duration
	EdgeBuffer   float64
}

type initialDone struct {
	gen     uint64
	candles []model.Candle
	err     error
}

type backfillDone struct {
	gen      uint64
	before   int64
	candles  []model.Candle
	err      error
	captured model.TimeRange
	hasRange bool
}

type sampleDone struct {
	gen uint64
	bar model.Candle
	err error
}

// Orchestrator owns the pipeline state for one chart.
type Orchestrator struct {
	fetcher  PageFetcher
	sampler  *livesample.Sampler
	renderer Renderer
	clock    Clock
	metrics  Metrics
	log      zerolog.Logger
	view     *viewportController

	selectCh chan model.Selection
	events   chan any
	done     chan struct{}
	once     sync.Once

	// Loop-owned.
	state     State
	store     *series.Store
	ticker    Ticker
	cancelGen context.CancelFunc
	genCtx    context.Context

	snapMu sync.RWMutex
	snap   State
	bars   *series.Store
}

// New builds an Orchestrator. Run must be called to start it.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	sampler := livesample.New(deps.Prices, opts.LiveInterval).WithClock(deps.Clock.Now)

	return &Orchestrator{
		fetcher:  deps.Fetcher,
		sampler:  sampler,
		renderer: deps.Renderer,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		view:     newViewportController(deps.Viewport, opts.EdgeBuffer),
		selectCh: make(chan model.Selection, 8),
		events:   make(chan any, 16),
		done:     make(chan struct{}),
		store:    series.New(0),
		bars:     series.New(0),
	}
}

// Select switches the chart to sel, discarding all current data.
// It does not block once Run has returned.
func (o *Orchestrator) Select(sel model.Selection) {
	select {
	case o.selectCh <- sel.Normalize():
	case <-o.done:
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.snapMu.RLock()
	defer o.snapMu.RUnlock()
	return o.snap
}

// Candles returns a copy of the current series.
func (o *Orchestrator) Candles() []model.Candle {
	o.snapMu.RLock()
	s := o.bars
	o.snapMu.RUnlock()
	return s.Candles()
}

// Run is the reconciliation loop. It blocks until ctx is cancelled, then
// stops the ticker and abandons in-flight requests.
func (o *Orchestrator) Run(ctx context.Context) {
	unsubscribe := o.view.subscribe()
	defer func() {
		unsubscribe()
		o.stopTicker()
		if o.cancelGen != nil {
			o.cancelGen()
		}
		o.once.Do(func() { close(o.done) })
	}()

	for {
		var tick <-chan time.Time
		if o.ticker != nil {
			tick = o.ticker.C()
		}

		select {
		case <-ctx.Done():
			o.log.Debug().Msg("[pipeline] stopped")
			return
		case sel := <-o.selectCh:
			o.reset(ctx, sel)
		case ev := <-o.events:
			switch e := ev.(type) {
			case initialDone:
				o.onInitial(e)
			case backfillDone:
				o.onBackfill(e)
			case sampleDone:
				o.onSample(e)
			}
		case <-o.view.notify:
			o.onRange()
		case <-tick:
			o.onTick()
		}
		o.publish()
	}
}

// reset tears down the current selection and starts loading sel.
func (o *Orchestrator) reset(ctx context.Context, sel model.Selection) {
	o.stopTicker()
	if o.cancelGen != nil {
		o.cancelGen()
	}

	gen := o.state.Generation + 1
	o.genCtx, o.cancelGen = context.WithCancel(ctx)
	o.store = series.New(sel.Timeframe.Seconds())
	o.state = State{
		Selection:      sel,
		Generation:     gen,
		Phase:          PhaseInitialLoading,
		HasMoreHistory: true,
	}
	o.metrics.SelectionReset()

	o.renderer.SetData(nil)
	o.renderer.SetStatus(o.state.status())
	o.log.Info().Str("coin", sel.Coin).Str("tf", string(sel.Timeframe)).Uint64("gen", gen).Msg("[pipeline] selection reset")

	if !sel.Timeframe.Valid() || sel.Coin == "" {
		o.fail(fmt.Errorf("%w: invalid selection %q", ErrDataUnavailable, sel.Key()))
		return
	}

	o.spawn(func(ctx context.Context) any {
		candles, err := o.fetcher.FetchPage(ctx, sel, 0)
		return initialDone{gen: gen, candles: candles, err: err}
	})
}

func (o *Orchestrator) onInitial(e initialDone) {
	if o.stale(e.gen, "initial") {
		return
	}
	if e.err != nil {
		o.fail(e.err)
		return
	}

	o.store.Replace(e.candles)
	if o.store.Len() == 0 {
		o.fail(fmt.Errorf("%w: empty page", ErrDataUnavailable))
		return
	}
	o.metrics.PageFetched("initial", o.store.Len())
	o.state.PagesLoaded++

	o.renderer.SetData(o.store.Candles())
	o.renderer.FitContent()
	o.state.Phase = PhaseReady
	o.renderer.SetStatus(o.state.status())
	o.startTicker()

	o.log.Info().Uint64("gen", e.gen).Int("bars", o.store.Len()).Msg("[pipeline] initial load complete")
}

func (o *Orchestrator) fail(err error) {
	o.state.Phase = PhaseFailed
	o.state.Err = err.Error()
	o.renderer.SetStatus(o.state.status())
	o.log.Error().Err(err).Uint64("gen", o.state.Generation).Msg("[pipeline] initial load failed")
}

func (o *Orchestrator) onRange() {
	lr, ok := o.view.take()
	if !ok {
		return
	}
	o.syncBars()
	o.state.LastLogical = lr
	if !o.view.shouldBackfill(o.state, lr) {
		return
	}

	first, _ := o.store.First()
	captured, hasRange := o.view.capture()
	gen, sel, before := o.state.Generation, o.state.Selection, first.Time

	o.state.IsLoadingHistory = true
	o.renderer.SetStatus(o.state.status())
	o.log.Debug().Uint64("gen", gen).Int64("before", before).Float64("logical_from", lr.From).Msg("[pipeline] backfill requested")

	o.spawn(func(ctx context.Context) any {
		candles, err := o.fetcher.FetchPage(ctx, sel, before)
		return backfillDone{gen: gen, before: before, candles: candles, err: err, captured: captured, hasRange: hasRange}
	})
}

func (o *Orchestrator) onBackfill(e backfillDone) {
	if o.stale(e.gen, "backfill") {
		return
	}
	o.state.IsLoadingHistory = false

	switch {
	case e.err != nil:
		o.state.HasMoreHistory = false
		o.log.Warn().Err(e.err).Int64("before", e.before).Msg("[pipeline] backfill failed; history paging disabled")
	case len(e.candles) == 0:
		o.state.HasMoreHistory = false
		o.log.Info().Int64("before", e.before).Msg("[pipeline] history exhausted")
	default:
		added := o.store.Prepend(e.candles)
		if added == 0 {
			// Nothing older came back; asking again would loop.
			o.state.HasMoreHistory = false
			break
		}
		o.metrics.PageFetched("backfill", added)
		o.state.PagesLoaded++
		o.renderer.SetData(o.store.Candles())
		o.view.restore(e.captured, e.hasRange)
	}
	o.renderer.SetStatus(o.state.status())
}

func (o *Orchestrator) onTick() {
	if o.state.Phase != PhaseReady || o.store.Len() == 0 {
		return
	}
	if o.state.SampleInFlight {
		o.metrics.Sampled("busy")
		return
	}

	last, _ := o.store.Last()
	gen, coin, width := o.state.Generation, o.state.Selection.Coin, o.store.BarWidth()
	o.state.SampleInFlight = true

	o.spawn(func(ctx context.Context) any {
		bar, err := o.sampler.Sample(ctx, coin, last, width)
		return sampleDone{gen: gen, bar: bar, err: err}
	})
}

func (o *Orchestrator) onSample(e sampleDone) {
	if o.stale(e.gen, "sample") {
		return
	}
	o.state.SampleInFlight = false

	if e.err != nil {
		o.metrics.Sampled("skipped")
		o.log.Warn().Err(e.err).Msg("[pipeline] live sample skipped")
		return
	}

	before := o.store.Len()
	if !o.store.AppendOrMutateLatest(e.bar) {
		o.metrics.Sampled("rejected")
		o.log.Debug().Int64("time", e.bar.Time).Msg("[pipeline] live bar out of sequence")
		return
	}
	if o.store.Len() > before {
		o.metrics.BarAppended()
	}
	o.metrics.Sampled("applied")
	o.renderer.UpdateBar(e.bar)
}

// stale reports (and counts) a completion from a superseded generation.
func (o *Orchestrator) stale(gen uint64, kind string) bool {
	if gen == o.state.Generation {
		return false
	}
	o.state.StaleDropped++
	o.metrics.StaleDropped(kind)
	o.log.Debug().Err(ErrStaleResponse).Str("kind", kind).Uint64("gen", gen).Uint64("current", o.state.Generation).Msg("[pipeline] dropped")
	return true
}

// spawn runs fn under the current generation's context and posts its
// result to the loop.
func (o *Orchestrator) spawn(fn func(ctx context.Context) any) {
	ctx := o.genCtx
	go func() {
		ev := fn(ctx)
		select {
		case o.events <- ev:
		case <-o.done:
		}
	}()
}

func (o *Orchestrator) startTicker() {
	o.stopTicker()
	o.ticker = o.clock.NewTicker(o.sampler.Interval())
}

func (o *Orchestrator) stopTicker() {
	if o.ticker != nil {
		o.ticker.Stop()
		o.ticker = nil
	}
}

func (o *Orchestrator) syncBars() {
	o.state.Bars = o.store.Len()
	o.state.FirstTime, o.state.LastTime = 0, 0
	if c, ok := o.store.First(); ok {
		o.state.FirstTime = c.Time
	}
	if c, ok := o.store.Last(); ok {
		o.state.LastTime = c.Time
	}
}

func (o *Orchestrator) publish() {
	o.syncBars()
	o.snapMu.Lock()
	o.snap = o.state
	o.bars = o.store
	o.snapMu.Unlock()
}
