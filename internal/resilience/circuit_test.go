package resilience_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tour-checkout/internal/resilience"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Add(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestBreakerTransitions(t *testing.T) {
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreaker(2, 0.5, 50*time.Millisecond).WithClock(clock.Now)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)

	require.False(t, breaker.Allow(ctx), "breaker should open after threshold exceeded")
	require.Equal(t, resilience.Open, breaker.State())

	clock.Add(60 * time.Millisecond)
	require.True(t, breaker.Allow(ctx), "breaker should move to half-open after cool off")
	require.False(t, breaker.Allow(ctx), "only one probe while half-open")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
	require.True(t, breaker.Allow(ctx), "breaker should close after successful probe")
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	breaker := resilience.NewBreakerFromConfig(resilience.BreakerConfig{
		MinRequests: 1, FailureRatio: 0.5, OpenFor: time.Second, Target: "booking-api",
	}).WithClock(clock.Now)
	ctx := context.Background()

	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	clock.Add(time.Second)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	d1 := resilience.Backoff(base, 1, 0)
	require.Equal(t, base, d1)

	d2 := resilience.Backoff(base, 3, 0)
	require.Equal(t, base*4, d2)

	// With jitter the delay should stay within expected range.
	d3 := resilience.Backoff(base, 2, 0.2)
	min := base*2 - (base * 2 / 5)
	max := base*2 + (base * 2 / 5)
	require.GreaterOrEqual(t, d3, min)
	require.LessOrEqual(t, d3, max)
}

func TestBreakerOldFailuresAgeOut(t *testing.T) {
	breaker := resilience.NewBreaker(2, 0.5, time.Minute)
	ctx := context.Background()

	breaker.Report(ctx, false)
	for i := 0; i < 9; i++ {
		breaker.Report(ctx, true)
	}
	for i := 0; i < 4; i++ {
		breaker.Report(ctx, false)
	}
	require.Equal(t, resilience.Closed, breaker.State(), "4 of the last 10 failed")

	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State(), "5 of the last 10 failed")
}

func TestBackoffIsCapped(t *testing.T) {
	require.Equal(t, resilience.MaxBackoff, resilience.Backoff(time.Second, 64, 0))
	require.Equal(t, 100*time.Millisecond, resilience.Backoff(0, 0, 0))
}
