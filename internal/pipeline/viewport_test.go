package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"coinchart/internal/model"
)

func TestViewportController_ShouldBackfill(t *testing.T) {
	v := newViewportController(&fakeViewport{}, 0)
	ready := State{Phase: PhaseReady, HasMoreHistory: true, Bars: 200}
	near := model.LogicalRange{From: 9.5, To: 90}

	assert.True(t, v.shouldBackfill(ready, near))
	assert.True(t, v.shouldBackfill(ready, model.LogicalRange{From: -4}))
	assert.False(t, v.shouldBackfill(ready, model.LogicalRange{From: 10}), "edge buffer is exclusive")

	busy := ready
	busy.IsLoadingHistory = true
	assert.False(t, v.shouldBackfill(busy, near))

	exhausted := ready
	exhausted.HasMoreHistory = false
	assert.False(t, v.shouldBackfill(exhausted, near))

	empty := ready
	empty.Bars = 0
	assert.False(t, v.shouldBackfill(empty, near))

	loading := ready
	loading.Phase = PhaseInitialLoading
	assert.False(t, v.shouldBackfill(loading, near))
}

func TestViewportController_Coalesces(t *testing.T) {
	v := newViewportController(&fakeViewport{}, 5)
	v.onChange(model.LogicalRange{From: 50})
	v.onChange(model.LogicalRange{From: 30})
	v.onChange(model.LogicalRange{From: 4})

	assert.Len(t, v.notify, 1)
	lr, ok := v.take()
	assert.True(t, ok)
	assert.Equal(t, 4.0, lr.From)

	_, ok = v.take()
	assert.False(t, ok)
}

func TestViewportController_RestoreVerbatim(t *testing.T) {
	vp := &fakeViewport{}
	v := newViewportController(vp, 0)

	v.restore(model.TimeRange{From: 1, To: 2}, false)
	assert.Empty(t, vp.restoredRanges())

	v.restore(model.TimeRange{From: 100, To: 900}, true)
	assert.Equal(t, []model.TimeRange{{From: 100, To: 900}}, vp.restoredRanges())
}
