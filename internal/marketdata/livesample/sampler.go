// Package livesample turns periodic spot-price polls into updates of the
// newest candle: either an in-place update of the forming bar or a rollover
// to the next bucket.
package livesample

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coinchart/internal/model"
)

// DefaultInterval is the polling period.
const DefaultInterval = 2 * time.Second

// ErrSampleSkipped marks a poll that produced no update. The caller logs
// it and waits for the next tick.
var ErrSampleSkipped = errors.New("live sample skipped")

// PriceSource returns the latest spot price for a coin.
type PriceSource interface {
	LatestPrice(ctx context.Context, coin string) (float64, error)
}

// Fold applies price to the newest bar. When now has reached the next
// bucket (last.Time + barWidth) a fresh bar starts at that boundary with
// all four prices equal to price. Otherwise the forming bar is updated:
// close follows the price, high and low widen, open is kept.
//
// The new bar is anchored at last.Time + barWidth even if more than one
// bucket has elapsed.
func Fold(last model.Candle, price float64, barWidth, now int64) model.Candle {
	next := last.Time + barWidth
	if now >= next {
		return model.Candle{Time: next, Open: price, High: price, Low: price, Close: price}
	}

	c := last
	c.Close = price
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	return c
}

// Sampler polls a PriceSource and folds the result into a bar.
type Sampler struct {
	src      PriceSource
	interval time.Duration
	now      func() time.Time
}

// New returns a Sampler. interval <= 0 selects DefaultInterval.
func New(src PriceSource, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{src: src, interval: interval, now: time.Now}
}

// WithClock replaces the wall clock, mainly for tests.
func (s *Sampler) WithClock(now func() time.Time) *Sampler {
	s.now = now
	return s
}

// Interval returns the polling period.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Sample fetches the current price for coin and folds it into last.
// Any failure is returned wrapped in ErrSampleSkipped.
func (s *Sampler) Sample(ctx context.Context, coin string, last model.Candle, barWidth int64) (model.Candle, error) {
	price, err := s.src.LatestPrice(ctx, coin)
	if err != nil {
		return model.Candle{}, fmt.Errorf("%w: %s: %v", ErrSampleSkipped, coin, err)
	}
	if price <= 0 {
		return model.Candle{}, fmt.Errorf("%w: %s: non-positive price %v", ErrSampleSkipped, coin, price)
	}
	return Fold(last, price, barWidth, s.now().Unix()), nil
}
