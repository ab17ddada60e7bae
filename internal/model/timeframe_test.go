package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	cases := map[string]Timeframe{
		"1m":  TF1m,
		"15m": TF15m,
		"4H":  TF4H,
		"4h":  TF4H,
		"1d":  TF1D,
	}
	for in, want := range cases {
		got, err := ParseTimeframe(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "2m", "1M", "1w"} {
		_, err := ParseTimeframe(bad)
		assert.True(t, errors.Is(err, ErrUnsupportedTimeframe), bad)
	}
}

func TestTimeframe_SecondsAndProvider(t *testing.T) {
	assert.Equal(t, int64(60), TF1m.Seconds())
	assert.Equal(t, int64(14400), TF4H.Seconds())
	assert.Equal(t, int64(86400), TF1D.Seconds())

	unit, agg := TF15m.Provider()
	assert.Equal(t, "minute", unit)
	assert.Equal(t, 15, agg)

	unit, agg = TF4H.Provider()
	assert.Equal(t, "hour", unit)
	assert.Equal(t, 4, agg)

	assert.Equal(t, int64(0), Timeframe("3m").Seconds())
	assert.False(t, Timeframe("3m").Valid())
}

func TestCandle_Valid(t *testing.T) {
	assert.True(t, Candle{Time: 60, Open: 10, High: 12, Low: 9, Close: 11}.Valid())
	assert.True(t, Candle{Time: 60, Open: 5, High: 5, Low: 5, Close: 5}.Valid())
	assert.False(t, Candle{Time: 60, Open: 13, High: 12, Low: 9, Close: 11}.Valid())
	assert.False(t, Candle{Time: 60, Open: 10, High: 12, Low: 9, Close: 8}.Valid())
	assert.False(t, Candle{Time: 60, Open: 10, High: 9, Low: 12, Close: 10}.Valid())
}

func TestSelection_Normalize(t *testing.T) {
	s := Selection{Coin: " btc ", Timeframe: TF1H}.Normalize()
	assert.Equal(t, "BTC", s.Coin)
	assert.Equal(t, "BTC:1H", s.Key())
}
