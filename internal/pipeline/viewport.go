package pipeline

import (
	"sync"

	"coinchart/internal/model"
)

// DefaultEdgeBuffer is how many bars from the left edge a backfill starts.
const DefaultEdgeBuffer = 10

// viewportController turns visible-range notifications into backfill
// decisions and restores the viewer's window after a prepend.
// Notifications are coalesced: only the latest range is kept.
type viewportController struct {
	vp         Viewport
	edgeBuffer float64

	mu      sync.Mutex
	latest  model.LogicalRange
	pending bool
	notify  chan struct{}
}

func newViewportController(vp Viewport, edgeBuffer float64) *viewportController {
	if edgeBuffer <= 0 {
		edgeBuffer = DefaultEdgeBuffer
	}
	return &viewportController{
		vp:         vp,
		edgeBuffer: edgeBuffer,
		notify:     make(chan struct{}, 1),
	}
}

func (v *viewportController) subscribe() (unsubscribe func()) {
	return v.vp.OnVisibleRangeChanged(v.onChange)
}

// onChange may be called from any goroutine.
func (v *viewportController) onChange(lr model.LogicalRange) {
	v.mu.Lock()
	v.latest = lr
	v.pending = true
	v.mu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// take returns the most recent unseen range.
func (v *viewportController) take() (model.LogicalRange, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.pending {
		return model.LogicalRange{}, false
	}
	v.pending = false
	return v.latest, true
}

// shouldBackfill reports whether lr, seen in state s, calls for an older page.
func (v *viewportController) shouldBackfill(s State, lr model.LogicalRange) bool {
	return lr.From < v.edgeBuffer &&
		!s.IsLoadingHistory &&
		s.HasMoreHistory &&
		s.Bars > 0 &&
		s.Phase == PhaseReady
}

func (v *viewportController) capture() (model.TimeRange, bool) {
	return v.vp.VisibleRange()
}

// restore puts the captured window back verbatim.
func (v *viewportController) restore(r model.TimeRange, ok bool) {
	if !ok {
		return
	}
	v.vp.SetVisibleRange(r)
}
