package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coinchart/internal/trade"
)

type mockBalance struct {
	mock.Mock
}

func (m *mockBalance) RefreshBalance(ctx context.Context) (trade.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(trade.Balance), args.Error(1)
}

type mockPruner struct {
	mock.Mock
}

func (m *mockPruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func TestRegisterAll(t *testing.T) {
	s := New(context.Background(), Config{
		BalanceCron:      "0 * * * * *",
		JournalPruneCron: "0 30 3 * * *",
		Retention:        24 * time.Hour,
	}, &mockBalance{}, &mockPruner{})
	require.NoError(t, s.RegisterAll())
	assert.Equal(t, 2, s.Jobs())
}

func TestRegisterAll_SkipsDisabled(t *testing.T) {
	s := New(context.Background(), Config{BalanceCron: "0 * * * * *"}, &mockBalance{}, &mockPruner{})
	require.NoError(t, s.RegisterAll())
	assert.Equal(t, 1, s.Jobs(), "prune needs a retention")
}

func TestRegisterAll_BadSpec(t *testing.T) {
	s := New(context.Background(), Config{BalanceCron: "every minute"}, &mockBalance{}, nil)
	assert.Error(t, s.RegisterAll())
}

func TestRefreshBalanceNow_ToleratesErrors(t *testing.T) {
	b := &mockBalance{}
	b.On("RefreshBalance", mock.Anything).Return(trade.Balance{}, trade.ErrNoCredentials).Once()
	b.On("RefreshBalance", mock.Anything).Return(trade.Balance{}, errors.New("boom")).Once()

	s := New(context.Background(), Config{}, b, nil)
	s.RefreshBalanceNow()
	s.RefreshBalanceNow()
	b.AssertNumberOfCalls(t, "RefreshBalance", 2)
}

func TestPruneJournalNow_UsesRetention(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	p := &mockPruner{}
	p.On("Prune", mock.Anything, now.Add(-48*time.Hour)).Return(int64(3), nil).Once()

	s := New(context.Background(), Config{Retention: 48 * time.Hour}, nil, p)
	s.now = func() time.Time { return now }

	s.PruneJournalNow()
	p.AssertExpectations(t)
}

func TestStartStop(t *testing.T) {
	s := New(context.Background(), Config{}, nil, nil)
	require.NoError(t, s.RegisterAll())
	s.Start()
	s.Stop()
}
