package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*Breaker, *manualClock) {
	clk := &manualClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(maxFailures, 10*time.Second)
	b.now = clk.now
	return b, clk
}

var errFail = errors.New("fail")

func fail(context.Context) error { return errFail }
func ok(context.Context) error   { return nil }

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(3)
	if b.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", b.CurrentState())
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, fail); !errors.Is(err, errFail) {
			t.Fatalf("expected errFail, got %v", err)
		}
	}
	if b.CurrentState() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %v", b.CurrentState())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestBreaker_ProbeRecovery(t *testing.T) {
	b, clk := newTestBreaker(2)
	ctx := context.Background()
	b.Do(ctx, fail)
	b.Do(ctx, fail)

	clk.advance(11 * time.Second)
	if err := b.Do(ctx, ok); err != nil {
		t.Fatalf("expected probe to pass, got %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected closed after successful probe, got %v", b.CurrentState())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(2)
	ctx := context.Background()
	b.Do(ctx, fail)
	b.Do(ctx, fail)

	clk.advance(11 * time.Second)
	b.Do(ctx, fail)
	if b.CurrentState() != StateOpen {
		t.Errorf("expected open after failed probe, got %v", b.CurrentState())
	}
}

func TestBreaker_SingleProbeInHalfOpen(t *testing.T) {
	b, clk := newTestBreaker(1)
	ctx := context.Background()
	b.Do(ctx, fail)
	clk.advance(11 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(ctx, ok); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second caller during probe: expected ErrCircuitOpen, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.CurrentState() != StateClosed {
		t.Errorf("expected closed, got %v", b.CurrentState())
	}
}

func TestBreaker_CancellationNotCounted(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	if b.CurrentState() != StateClosed {
		t.Errorf("cancellation tripped the breaker: %v", b.CurrentState())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	b, clk := newTestBreaker(1)
	var transitions []State
	b.OnStateChange = func(_, to State) { transitions = append(transitions, to) }

	ctx := context.Background()
	b.Do(ctx, fail)
	clk.advance(11 * time.Second)
	b.Do(ctx, ok)

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}
