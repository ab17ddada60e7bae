package model

import (
	"strconv"
	"time"
)

// Candle is one OHLC bar. Time is the bucket start in Unix seconds and is
// the unique key of the bar within a series.
type Candle struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Valid reports whether the OHLC values are internally consistent:
// low <= open, close <= high.
func (c Candle) Valid() bool {
	if c.Low > c.High {
		return false
	}
	if c.Open < c.Low || c.Open > c.High {
		return false
	}
	if c.Close < c.Low || c.Close > c.High {
		return false
	}
	return true
}

// TS returns the bucket start as a UTC time.
func (c Candle) TS() time.Time {
	return time.Unix(c.Time, 0).UTC()
}

func (c Candle) String() string {
	return "candle@" + strconv.FormatInt(c.Time, 10)
}

// TimeRange is the pair of time bounds (Unix seconds) a viewer currently sees.
type TimeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// LogicalRange is the visible window expressed in bar indices. From may be
// negative when the viewer has scrolled past the first loaded bar.
type LogicalRange struct {
	From float64 `json:"logicalFrom"`
	To   float64 `json:"logicalTo"`
}
