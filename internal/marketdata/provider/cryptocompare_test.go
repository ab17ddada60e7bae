package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinchart/internal/marketdata/history"
	"coinchart/internal/model"
)

func newServer(t *testing.T, h http.HandlerFunc) (*CryptoCompare, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "k"}, nil), srv
}

func TestCandles_RequestShapeAndMapping(t *testing.T) {
	var gotPath string
	var gotQuery map[string]string
	var gotAuth string
	cc, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("authorization")
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Write([]byte(`{"Response":"Success","Data":{"Data":[
			{"time":1000,"open":10,"high":12,"low":9,"close":11,"volumefrom":1},
			{"time":1060,"open":0,"high":0,"low":0,"close":0},
			{"time":1120,"open":11,"high":10,"low":9,"close":11},
			{"time":1180,"open":11,"high":13,"low":10,"close":12}
		]}}`))
	})

	got, err := cc.Candles(context.Background(), history.PageQuery{
		Coin: "btc", Timeframe: model.TF4H, Limit: 200, Before: 5000,
	})
	require.NoError(t, err)

	assert.Equal(t, "/data/v2/histohour", gotPath)
	assert.Equal(t, "BTC", gotQuery["fsym"])
	assert.Equal(t, "USDT", gotQuery["tsym"])
	assert.Equal(t, "200", gotQuery["limit"])
	assert.Equal(t, "4", gotQuery["aggregate"])
	assert.Equal(t, "5000", gotQuery["toTs"])
	assert.Equal(t, "Apikey k", gotAuth)

	require.Len(t, got, 2, "zero and inconsistent bars dropped")
	assert.Equal(t, model.Candle{Time: 1000, Open: 10, High: 12, Low: 9, Close: 11}, got[0])
	assert.Equal(t, int64(1180), got[1].Time)
}

func TestCandles_InitialOmitsToTs(t *testing.T) {
	cc, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/v2/histominute", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("toTs"))
		assert.Equal(t, "15", r.URL.Query().Get("aggregate"))
		w.Write([]byte(`{"Response":"Success","Data":{"Data":[]}}`))
	})

	got, err := cc.Candles(context.Background(), history.PageQuery{Coin: "ETH", Timeframe: model.TF15m, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCandles_UpstreamErrorResponse(t *testing.T) {
	cc, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Response":"Error","Message":"fsym param is invalid"}`))
	})

	_, err := cc.Candles(context.Background(), history.PageQuery{Coin: "NOPE", Timeframe: model.TF1D, Limit: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "fsym param is invalid")
}

func TestCandles_HTTPError(t *testing.T) {
	cc, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"Message":"rate limit"}`))
	})

	_, err := cc.Candles(context.Background(), history.PageQuery{Coin: "BTC", Timeframe: model.TF1m, Limit: 10})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestLatestPrice(t *testing.T) {
	cc, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/price", r.URL.Path)
		assert.Equal(t, "SOL", r.URL.Query().Get("fsym"))
		assert.Equal(t, "USDT", r.URL.Query().Get("tsyms"))
		w.Write([]byte(`{"USDT":142.35}`))
	})

	p, err := cc.LatestPrice(context.Background(), "sol")
	require.NoError(t, err)
	assert.Equal(t, 142.35, p)
}

func TestLatestPrice_Errors(t *testing.T) {
	cases := map[string]string{
		"error response": `{"Response":"Error","Message":"market does not exist"}`,
		"missing quote":  `{"USD":1}`,
		"non-numeric":    `{"USDT":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cc, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			})
			_, err := cc.LatestPrice(context.Background(), "BTC")
			assert.ErrorIs(t, err, ErrUpstream)
		})
	}
}

func TestBreakerTripsOnTransportFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var observed []string
	cc := New(Config{
		BaseURL: srv.URL,
		Observe: func(endpoint string, _ time.Duration, _ error) { observed = append(observed, endpoint) },
	}, NewBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := cc.LatestPrice(context.Background(), "BTC")
		require.Error(t, err)
	}
	_, err := cc.LatestPrice(context.Background(), "BTC")
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"price", "price"}, observed)
}
