package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedTimeframe is returned for a timeframe label outside the enumeration.
var ErrUnsupportedTimeframe = errors.New("unsupported timeframe")

// Timeframe is a bar width label such as "1m" or "4H".
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1H  Timeframe = "1H"
	TF4H  Timeframe = "4H"
	TF1D  Timeframe = "1D"
)

type tfSpec struct {
	seconds   int64
	unit      string // provider unit: minute, hour, day
	aggregate int
	label     string
}

var timeframes = map[Timeframe]tfSpec{
	TF1m:  {60, "minute", 1, "1 Minute"},
	TF5m:  {5 * 60, "minute", 5, "5 Minutes"},
	TF15m: {15 * 60, "minute", 15, "15 Minutes"},
	TF1H:  {3600, "hour", 1, "1 Hour"},
	TF4H:  {4 * 3600, "hour", 4, "4 Hours"},
	TF1D:  {86400, "day", 1, "1 Day"},
}

// AllTimeframes lists the supported timeframes from narrowest to widest.
func AllTimeframes() []Timeframe {
	return []Timeframe{TF1m, TF5m, TF15m, TF1H, TF4H, TF1D}
}

// ParseTimeframe validates a timeframe label. Matching is exact except that
// "1h", "4h" and "1d" are accepted for their upper-case forms.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.TrimSpace(s)
	if _, ok := timeframes[Timeframe(s)]; ok {
		return Timeframe(s), nil
	}
	if n := len(s); n > 0 {
		alt := Timeframe(s[:n-1] + strings.ToUpper(s[n-1:]))
		if _, ok := timeframes[alt]; ok {
			return alt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, s)
}

// Seconds returns the bar width in seconds, or 0 for an unknown timeframe.
func (tf Timeframe) Seconds() int64 {
	return timeframes[tf].seconds
}

// Provider returns the market-data unit ("minute", "hour", "day") and the
// aggregate factor used to request bars of this width.
func (tf Timeframe) Provider() (unit string, aggregate int) {
	s := timeframes[tf]
	return s.unit, s.aggregate
}

// Label returns a human readable name, e.g. "4 Hours".
func (tf Timeframe) Label() string {
	return timeframes[tf].label
}

// Valid reports whether tf is one of the enumerated timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframes[tf]
	return ok
}

// Selection identifies the active (coin, timeframe) pair of a chart.
// Changing either field resets the pipeline.
type Selection struct {
	Coin      string    `json:"coin"`
	Timeframe Timeframe `json:"timeframe"`
}

// Normalize upper-cases the coin symbol.
func (s Selection) Normalize() Selection {
	s.Coin = strings.ToUpper(strings.TrimSpace(s.Coin))
	return s
}

// Key returns "COIN:TF".
func (s Selection) Key() string {
	return s.Coin + ":" + string(s.Timeframe)
}
