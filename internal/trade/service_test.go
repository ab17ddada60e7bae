package trade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinchart/internal/exchange/bybit"
	"coinchart/internal/model"
	"coinchart/internal/notification"
)

type fakeExchange struct {
	mu        sync.Mutex
	demo      bool
	leverage  map[string]int
	orders    []bybit.Order
	levErr    error
	orderErr  error
	balance   decimal.Decimal
	balCalled int
}

func (f *fakeExchange) Demo() bool { return f.demo }

func (f *fakeExchange) SetLeverage(_ context.Context, symbol string, lev int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.levErr != nil {
		return f.levErr
	}
	if f.leverage == nil {
		f.leverage = map[string]int{}
	}
	f.leverage[symbol] = lev
	return nil
}

func (f *fakeExchange) PlaceMarketOrder(_ context.Context, o bybit.Order) (bybit.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return bybit.PlacedOrder{}, f.orderErr
	}
	f.orders = append(f.orders, o)
	return bybit.PlacedOrder{OrderID: "ord-1", OrderLinkID: "link-1"}, nil
}

func (f *fakeExchange) WalletBalance(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balCalled++
	return f.balance, nil
}

type fakeCreds struct {
	creds model.Credentials
	ok    bool
}

func (f fakeCreds) Credentials(context.Context) (model.Credentials, bool, error) {
	return f.creds, f.ok, nil
}

type fakeJournal struct {
	mu      sync.Mutex
	records []model.OrderRecord
}

func (j *fakeJournal) Record(_ context.Context, r model.OrderRecord) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, r)
	return int64(len(j.records)), nil
}

type countingMetrics struct {
	mu             sync.Mutex
	placed, failed int
}

func (m *countingMetrics) OrderPlaced(string, string) { m.mu.Lock(); m.placed++; m.mu.Unlock() }
func (m *countingMetrics) OrderFailed()               { m.mu.Lock(); m.failed++; m.mu.Unlock() }

func newService(ex *fakeExchange, secret string) (*Service, *fakeJournal, *countingMetrics) {
	j := &fakeJournal{}
	m := &countingMetrics{}
	svc := New(Deps{
		Credentials: fakeCreds{creds: model.Credentials{APIKey: "k", APISecret: "s"}, ok: true},
		Journal:     j,
		Dial:        func(model.Credentials) (Exchange, error) { return ex, nil },
		Metrics:     m,
		TOTPSecret:  secret,
	})
	return svc, j, m
}

func longBTC() Request {
	return Request{Coin: "btc", Action: "Long", Margin: 100, Leverage: 10, EntryPrice: "$68,500", TakeProfit: "69500", StopLoss: "N/A"}
}

func TestPlace_Success(t *testing.T) {
	ex := &fakeExchange{balance: decimal.RequireFromString("1234.5")}
	svc, j, m := newService(ex, "")

	rec, err := svc.Place(context.Background(), longBTC())
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", rec.Symbol)
	assert.Equal(t, "Buy", rec.Side)
	assert.Equal(t, "0.015", rec.Qty) // 1000 / 68500 = 0.01459...
	assert.Equal(t, model.TradeModeLive, rec.Mode)
	assert.Equal(t, int64(1), rec.JournalID)

	require.Len(t, ex.orders, 1)
	assert.Equal(t, "69500", ex.orders[0].TakeProfit)
	assert.Empty(t, ex.orders[0].StopLoss)
	assert.Equal(t, 10, ex.leverage["BTCUSDT"])

	require.Len(t, j.records, 1)
	assert.Equal(t, "ord-1", j.records[0].OrderID)
	assert.Equal(t, "68500", j.records[0].EntryPrice)
	assert.Equal(t, 1, m.placed)

	require.Eventually(t, func() bool {
		_, ok := svc.Balance()
		return ok
	}, time.Second, 5*time.Millisecond)
	bal, _ := svc.Balance()
	assert.Equal(t, "1,234.50", bal.Formatted)
}

func TestPlace_Rejections(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Request)
		want   error
	}{
		"hold":          {func(r *Request) { r.Action = "Hold" }, ErrHoldSignal},
		"bad entry":     {func(r *Request) { r.EntryPrice = "N/A" }, ErrInvalidEntryPrice},
		"tiny quantity": {func(r *Request) { r.Coin, r.Margin, r.Leverage = "DOGE", 0.001, 1 }, ErrQuantityTooSmall},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ex := &fakeExchange{}
			svc, _, _ := newService(ex, "")
			req := longBTC()
			tc.mutate(&req)
			_, err := svc.Place(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, ex.orders)
		})
	}
}

func TestPlace_ValidationErrors(t *testing.T) {
	svc, _, _ := newService(&fakeExchange{}, "")
	for _, mutate := range []func(*Request){
		func(r *Request) { r.Margin = 0 },
		func(r *Request) { r.Leverage = 0 },
		func(r *Request) { r.Action = "Moon" },
		func(r *Request) { r.Coin = "" },
	} {
		req := longBTC()
		mutate(&req)
		_, err := svc.Place(context.Background(), req)
		assert.Error(t, err)
	}
}

func TestPlace_NoCredentials(t *testing.T) {
	svc := New(Deps{
		Credentials: fakeCreds{},
		Journal:     &fakeJournal{},
		Dial:        func(model.Credentials) (Exchange, error) { return &fakeExchange{}, nil },
	})
	_, err := svc.Place(context.Background(), longBTC())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestPlace_ExchangeFailures(t *testing.T) {
	boom := errors.New("boom")

	ex := &fakeExchange{levErr: boom}
	svc, j, m := newService(ex, "")
	_, err := svc.Place(context.Background(), longBTC())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, ex.orders, "no order after leverage failure")
	assert.Empty(t, j.records)
	assert.Equal(t, 1, m.failed)

	ex = &fakeExchange{orderErr: boom}
	svc, j, m = newService(ex, "")
	_, err = svc.Place(context.Background(), longBTC())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, j.records)
	assert.Equal(t, 1, m.failed)
}

func TestPlace_TOTPConfirmation(t *testing.T) {
	const secret = "JBSWY3DPEHPK3PXP"
	ex := &fakeExchange{demo: true}
	svc, _, _ := newService(ex, secret)
	require.True(t, svc.ConfirmationRequired())

	req := longBTC()
	req.Code = "000000"
	_, err := svc.Place(context.Background(), req)
	if err == nil {
		// One in a million: the fixed code happened to be current.
		t.Skip("fixed code matched the current window")
	}
	assert.ErrorIs(t, err, ErrConfirmationInvalid)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	req.Code = code
	rec, err := svc.Place(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.TradeModeDemo, rec.Mode)
}

func TestRefreshBalance(t *testing.T) {
	ex := &fakeExchange{balance: decimal.RequireFromString("9876543.219")}
	svc, _, _ := newService(ex, "")

	_, ok := svc.Balance()
	assert.False(t, ok)

	b, err := svc.RefreshBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9,876,543.22", b.Formatted)

	svc.ClearBalance()
	_, ok = svc.Balance()
	assert.False(t, ok)
}

type chanNotifier chan notification.Alert

func (c chanNotifier) Send(_ context.Context, a notification.Alert) error {
	c <- a
	return nil
}

func TestPlace_SendsAlerts(t *testing.T) {
	alerts := make(chanNotifier, 4)
	ex := &fakeExchange{}
	svc, _, _ := newService(ex, "")
	svc.notifier = alerts

	_, err := svc.Place(context.Background(), longBTC())
	require.NoError(t, err)
	select {
	case a := <-alerts:
		assert.Equal(t, notification.AlertInfo, a.Level)
		assert.Contains(t, a.Message, "Buy 0.015 BTCUSDT at 10x (live), order ord-1")
	case <-time.After(time.Second):
		t.Fatal("no alert for placed order")
	}

	ex.orderErr = errors.New("insufficient margin")
	_, err = svc.Place(context.Background(), longBTC())
	require.Error(t, err)
	select {
	case a := <-alerts:
		assert.Equal(t, notification.AlertWarning, a.Level)
		assert.Contains(t, a.Message, "insufficient margin")
	case <-time.After(time.Second):
		t.Fatal("no alert for failed order")
	}
}
