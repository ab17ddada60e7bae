// Package series holds the ordered candle sequence for one chart selection.
// Every mutation keeps the sequence strictly increasing by time with no
// duplicate buckets, so readers never observe a partially merged series.
package series

import (
	"sort"
	"sync"

	"coinchart/internal/model"
)

// Store is an ordered, deduplicated sequence of candles for a single
// (coin, timeframe) pair. Safe for concurrent use; in the pipeline it is
// only mutated from the orchestrator goroutine.
type Store struct {
	mu       sync.RWMutex
	barWidth int64
	candles  []model.Candle
}

// New creates an empty store for bars of barWidth seconds.
func New(barWidth int64) *Store {
	return &Store{barWidth: barWidth}
}

// BarWidth returns the bar width in seconds.
func (s *Store) BarWidth() int64 {
	return s.barWidth
}

// Replace discards the current series and installs candles. Input is
// expected ascending; unsorted input is sorted and duplicate times collapse
// to the last occurrence.
func (s *Store) Replace(candles []model.Candle) {
	clean := normalize(candles)

	s.mu.Lock()
	s.candles = clean
	s.mu.Unlock()
}

// Reset empties the store.
func (s *Store) Reset() {
	s.mu.Lock()
	s.candles = nil
	s.mu.Unlock()
}

// Prepend inserts a page of older candles before the current earliest bar.
// Any incoming candle at or after the current earliest time is discarded,
// which drops the boundary bar a paginated source repeats. Returns the
// number of bars added.
func (s *Store) Prepend(older []model.Candle) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.candles) == 0 {
		s.candles = normalize(older)
		return len(s.candles)
	}

	oldest := s.candles[0].Time
	page := make([]model.Candle, 0, len(older))
	for _, c := range older {
		if c.Time < oldest {
			page = append(page, c)
		}
	}
	page = normalize(page)
	if len(page) == 0 {
		return 0
	}

	merged := make([]model.Candle, 0, len(page)+len(s.candles))
	merged = append(merged, page...)
	merged = append(merged, s.candles...)
	s.candles = merged
	return len(page)
}

// AppendOrMutateLatest applies a live bar. A candle at the last bar's time
// replaces it (in-progress update); a candle exactly one bar width later is
// appended. Anything else is ignored as skewed or stale. Reports whether the
// series changed.
func (s *Store) AppendOrMutateLatest(c model.Candle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.candles)
	if n == 0 {
		return false
	}
	last := s.candles[n-1]

	switch {
	case c.Time == last.Time:
		s.candles[n-1] = c
		return true
	case c.Time == last.Time+s.barWidth:
		s.candles = append(s.candles, c)
		return true
	default:
		return false
	}
}

// Candles returns a copy of the series.
func (s *Store) Candles() []model.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Len returns the number of bars.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// First returns the oldest bar.
func (s *Store) First() (model.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[0], true
}

// Last returns the newest bar.
func (s *Store) Last() (model.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return model.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// normalize returns a sorted copy of candles with one entry per time.
// The last occurrence of a duplicated time wins.
func normalize(candles []model.Candle) []model.Candle {
	if len(candles) == 0 {
		return nil
	}
	out := make([]model.Candle, len(candles))
	copy(out, candles)

	sorted := sort.SliceIsSorted(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	if !sorted {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	}

	w := 0
	for i := range out {
		if w > 0 && out[w-1].Time == out[i].Time {
			out[w-1] = out[i]
			continue
		}
		out[w] = out[i]
		w++
	}
	return out[:w]
}
