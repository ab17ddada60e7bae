package pipeline

import (
	"errors"

	"coinchart/internal/marketdata/history"
	"coinchart/internal/marketdata/livesample"
)

var (
	// ErrDataUnavailable: the initial page for a selection failed or was empty.
	ErrDataUnavailable = history.ErrDataUnavailable

	// ErrSampleSkipped: one live poll failed; the next tick retries.
	ErrSampleSkipped = livesample.ErrSampleSkipped

	// ErrStaleResponse marks a completion issued for a superseded selection.
	ErrStaleResponse = errors.New("stale response")
)
