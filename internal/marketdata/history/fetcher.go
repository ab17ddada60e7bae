// Package history loads bounded pages of past candles for a selection.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"coinchart/internal/model"
)

// DefaultPageSize is the number of bars requested per page.
const DefaultPageSize = 200

// ErrDataUnavailable is returned when the initial page for a selection
// cannot be loaded: the upstream failed or returned nothing.
var ErrDataUnavailable = errors.New("historical data unavailable")

// PageQuery describes one upstream request. Before == 0 asks for the most
// recent bars; otherwise bars must end strictly before Before.
type PageQuery struct {
	Coin      string
	Timeframe model.Timeframe
	Limit     int
	Before    int64
}

// Paginated reports whether the query asks for an older page.
func (q PageQuery) Paginated() bool { return q.Before != 0 }

// Source is an upstream able to serve candle pages.
type Source interface {
	Candles(ctx context.Context, q PageQuery) ([]model.Candle, error)
}

// Fetcher wraps a Source with paging rules: boundary stripping, ordering
// and end-of-history detection.
type Fetcher struct {
	src      Source
	pageSize int
}

// NewFetcher returns a Fetcher. pageSize <= 0 selects DefaultPageSize.
func NewFetcher(src Source, pageSize int) *Fetcher {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Fetcher{src: src, pageSize: pageSize}
}

// PageSize returns the configured page size.
func (f *Fetcher) PageSize() int { return f.pageSize }

// FetchPage returns up to PageSize ascending candles for sel. With before
// set, only candles strictly older than before are returned and an empty
// result (nil, nil) means history is exhausted. Without before, a failure
// or an empty page is reported as ErrDataUnavailable.
func (f *Fetcher) FetchPage(ctx context.Context, sel model.Selection, before int64) ([]model.Candle, error) {
	if !sel.Timeframe.Valid() {
		return nil, fmt.Errorf("fetch %s: %w", sel.Key(), model.ErrUnsupportedTimeframe)
	}

	q := PageQuery{Coin: sel.Coin, Timeframe: sel.Timeframe, Limit: f.pageSize, Before: before}
	raw, err := f.src.Candles(ctx, q)
	if err != nil {
		if q.Paginated() {
			return nil, fmt.Errorf("fetch %s before %d: %w", sel.Key(), before, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, sel.Key(), err)
	}

	page := make([]model.Candle, 0, len(raw))
	for _, c := range raw {
		if q.Paginated() && c.Time >= before {
			continue
		}
		page = append(page, c)
	}
	sort.SliceStable(page, func(i, j int) bool { return page[i].Time < page[j].Time })
	if len(page) > f.pageSize {
		page = page[len(page)-f.pageSize:]
	}

	if len(page) == 0 {
		if q.Paginated() {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: empty response", ErrDataUnavailable, sel.Key())
	}
	return page, nil
}
