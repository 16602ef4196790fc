package poller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tour-checkout/internal/payment"
	"github.com/noah-isme/tour-checkout/internal/poller"
	"github.com/noah-isme/tour-checkout/internal/poller/pollertest"
)

var epochStart = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type scriptedFetcher struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	hook    func(call int)
}

type reply struct {
	status string
	err    error
}

func (f *scriptedFetcher) FetchStatus(_ context.Context, _ string) (payment.StatusReport, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	var r reply
	switch {
	case len(f.replies) == 0:
		r = reply{status: "pending"}
	case call <= len(f.replies):
		r = f.replies[call-1]
	default:
		r = f.replies[len(f.replies)-1]
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if r.err != nil {
		return payment.StatusReport{}, r.err
	}
	return payment.StatusReport{Status: r.status}, nil
}

type recorder struct {
	mu    sync.Mutex
	snaps []poller.Snapshot
}

func (r *recorder) listen(s poller.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []poller.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]poller.Snapshot(nil), r.snaps...)
}

func newPoller(t *testing.T, f poller.Fetcher, manual *pollertest.Manual, rec *recorder) *poller.Poller {
	t.Helper()
	cfg := poller.Config{Fetcher: f, Scheduler: manual, Clock: manual}
	if rec != nil {
		cfg.Listener = rec.listen
	}
	p, err := poller.New(context.Background(), "BK-1", cfg)
	require.NoError(t, err)
	return p
}

func TestPollerSucceedsAfterThreeTicks(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	fetcher := &scriptedFetcher{replies: []reply{{status: "pending"}, {status: "pending"}, {status: "success"}}}
	rec := &recorder{}
	p := newPoller(t, fetcher, manual, rec)

	require.Equal(t, poller.StateIdle, p.Snapshot().State)
	require.NoError(t, p.Start())
	require.Equal(t, 1, manual.Pending())

	for manual.FireNext() {
	}

	snap := p.Snapshot()
	require.Equal(t, poller.StateSucceeded, snap.State)
	require.Equal(t, payment.StatusSuccess, snap.Status)
	require.Equal(t, 3, snap.Attempts)
	require.Equal(t, 3, fetcher.calls)
	require.Equal(t, 12*time.Second, snap.Elapsed())
	require.Zero(t, manual.Pending())

	snaps := rec.all()
	require.Len(t, snaps, 4)
	for i := 1; i < len(snaps); i++ {
		require.Greater(t, snaps[i].Seq, snaps[i-1].Seq)
	}
	require.Equal(t, poller.StatePolling, snaps[0].State)
	require.Equal(t, poller.StateSucceeded, snaps[3].State)
}

func TestPollerFailedIsTerminal(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	p := newPoller(t, &scriptedFetcher{replies: []reply{{status: "FAILED"}}}, manual, nil)
	require.NoError(t, p.Start())
	require.True(t, manual.FireNext())
	require.Equal(t, poller.StateFailed, p.Snapshot().State)
	require.False(t, manual.FireNext())
}

func TestPollerTimesOutAfterTimeout(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	fetcher := &scriptedFetcher{}
	p := newPoller(t, fetcher, manual, nil)
	require.NoError(t, p.Start())

	ticks := 0
	for manual.FireNext() {
		ticks++
		require.Less(t, ticks, 100, "poller never timed out")
	}

	snap := p.Snapshot()
	require.Equal(t, poller.StateTimedOut, snap.State)
	require.Equal(t, payment.StatusPending, snap.Status)
	require.Equal(t, 30, ticks)
	require.GreaterOrEqual(t, manual.Now().Sub(epochStart), poller.DefaultTimeout)
}

func TestPollerTransportErrorsKeepPolling(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	boom := errors.New("connection reset")
	fetcher := &scriptedFetcher{replies: []reply{{err: boom}, {err: boom}, {status: "paid"}}}
	p := newPoller(t, fetcher, manual, nil)
	require.NoError(t, p.Start())

	require.True(t, manual.FireNext())
	snap := p.Snapshot()
	require.Equal(t, poller.StatePolling, snap.State)
	require.Equal(t, 1, snap.Failures)
	require.Equal(t, "connection reset", snap.LastError)

	for manual.FireNext() {
	}
	snap = p.Snapshot()
	require.Equal(t, poller.StateSucceeded, snap.State)
	require.Equal(t, 2, snap.Failures)
	require.Empty(t, snap.LastError)
}

func TestPollerTransportErrorsStillTimeOut(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	fetcher := &scriptedFetcher{replies: []reply{{err: errors.New("dial tcp: timeout")}}}
	p, err := poller.New(context.Background(), "BK-1", poller.Config{
		Fetcher: fetcher, Scheduler: manual, Clock: manual,
		Interval: 10 * time.Second, Timeout: 30 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	for manual.FireNext() {
	}
	snap := p.Snapshot()
	require.Equal(t, poller.StateTimedOut, snap.State)
	require.Equal(t, 3, snap.Failures)
}

func TestPollerEpochGuardDiscardsStaleResponse(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	fetcher := &scriptedFetcher{replies: []reply{{status: "success"}, {status: "pending"}}}
	var p *poller.Poller
	fetcher.hook = func(call int) {
		if call == 1 {
			require.NoError(t, p.Restart())
		}
	}
	p = newPoller(t, fetcher, manual, nil)
	require.NoError(t, p.Start())
	require.Equal(t, uint64(1), p.Snapshot().Epoch)

	require.True(t, manual.FireNext())

	snap := p.Snapshot()
	require.Equal(t, uint64(2), snap.Epoch)
	require.Equal(t, poller.StatePolling, snap.State)
	require.Equal(t, payment.StatusPending, snap.Status)
	require.Zero(t, snap.Attempts)
	require.Equal(t, 1, manual.Pending())

	require.True(t, manual.FireNext())
	require.Equal(t, poller.StatePolling, p.Snapshot().State)
	require.Equal(t, 1, p.Snapshot().Attempts)
}

func TestPollerEpochGuardConcurrentRestart(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	fetcher := poller.FetcherFunc(func(ctx context.Context, _ string) (payment.StatusReport, error) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
			return payment.StatusReport{Status: "failed"}, nil
		}
		return payment.StatusReport{Status: "pending"}, nil
	})
	p := newPoller(t, fetcher, manual, nil)
	require.NoError(t, p.Start())

	done := make(chan poller.Snapshot)
	go func() { done <- p.Tick() }()
	<-entered
	require.NoError(t, p.Restart())
	close(release)
	stale := <-done

	require.Equal(t, uint64(2), stale.Epoch)
	require.Equal(t, poller.StatePolling, stale.State)
	require.Equal(t, poller.StatePolling, p.Snapshot().State)
}

func TestPollerCancelDropsInFlightResponse(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	fetcher := &scriptedFetcher{replies: []reply{{status: "success"}}}
	rec := &recorder{}
	var p *poller.Poller
	fetcher.hook = func(int) { p.Cancel() }
	p = newPoller(t, fetcher, manual, rec)
	require.NoError(t, p.Start())
	before := len(rec.all())

	require.True(t, manual.FireNext())

	snap := p.Snapshot()
	require.True(t, snap.Cancelled)
	require.Equal(t, poller.StatePolling, snap.State)
	require.Equal(t, payment.StatusPending, snap.Status)
	require.Len(t, rec.all(), before)
	require.Zero(t, manual.Pending())

	require.ErrorIs(t, p.Start(), poller.ErrCancelled)
	require.ErrorIs(t, p.Restart(), poller.ErrCancelled)
	p.Tick()
	require.Equal(t, 1, fetcher.calls)
	p.Cancel()
}

func TestPollerCancelStopsTimer(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	fetcher := &scriptedFetcher{}
	p := newPoller(t, fetcher, manual, nil)
	require.NoError(t, p.Start())
	p.Cancel()
	require.Zero(t, manual.Pending())
	require.Zero(t, manual.Advance(time.Minute))
	require.Zero(t, fetcher.calls)
}

func TestPollerRestartRecoversFromTimeout(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	fetcher := &scriptedFetcher{}
	p, err := poller.New(context.Background(), "BK-1", poller.Config{
		Fetcher: fetcher, Scheduler: manual, Clock: manual,
		Interval: time.Second, Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	manual.Advance(5 * time.Second)
	require.Equal(t, poller.StateTimedOut, p.Snapshot().State)

	require.NoError(t, p.Restart())
	snap := p.Snapshot()
	require.Equal(t, poller.StatePolling, snap.State)
	require.Equal(t, uint64(2), snap.Epoch)
	require.Zero(t, snap.Attempts)
	require.Equal(t, manual.Now(), snap.StartedAt)

	fetcher.mu.Lock()
	fetcher.replies = []reply{{status: "completed"}}
	fetcher.calls = 0
	fetcher.mu.Unlock()
	manual.Advance(time.Second)
	require.Equal(t, poller.StateSucceeded, p.Snapshot().State)
}

func TestPollerStartIsIdempotentWhilePolling(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	p := newPoller(t, &scriptedFetcher{}, manual, nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.Start())
	require.Equal(t, uint64(1), p.Snapshot().Epoch)
	require.Equal(t, 1, manual.Pending())
}

func TestPollerTickPollsImmediately(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	p := newPoller(t, &scriptedFetcher{replies: []reply{{status: "success"}}}, manual, nil)

	require.Equal(t, poller.StateIdle, p.Tick().State)

	require.NoError(t, p.Start())
	snap := p.Tick()
	require.Equal(t, poller.StateSucceeded, snap.State)
	require.Zero(t, manual.Pending())
}

func TestPollerRequestTimeout(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	var deadline bool
	fetcher := poller.FetcherFunc(func(ctx context.Context, _ string) (payment.StatusReport, error) {
		_, deadline = ctx.Deadline()
		return payment.StatusReport{Status: "pending"}, nil
	})
	p, err := poller.New(context.Background(), "BK-1", poller.Config{
		Fetcher: fetcher, Scheduler: manual, Clock: manual, RequestTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	p.Tick()
	require.True(t, deadline)
}

func TestPollerIgnoresParentCancellation(t *testing.T) {
	manual := pollertest.NewManual(epochStart)
	ctx, cancel := context.WithCancel(context.Background())
	var ctxErr error
	fetcher := poller.FetcherFunc(func(ctx context.Context, _ string) (payment.StatusReport, error) {
		ctxErr = ctx.Err()
		return payment.StatusReport{Status: "pending"}, nil
	})
	p, err := poller.New(ctx, "BK-1", poller.Config{Fetcher: fetcher, Scheduler: manual, Clock: manual})
	require.NoError(t, err)
	cancel()
	require.NoError(t, p.Start())
	p.Tick()
	require.NoError(t, ctxErr)
}

func TestNewValidates(t *testing.T) {
	_, err := poller.New(context.Background(), " ", poller.Config{Fetcher: &scriptedFetcher{}})
	require.ErrorIs(t, err, poller.ErrMissingBookingID)
	_, err = poller.New(context.Background(), "BK-1", poller.Config{})
	require.ErrorIs(t, err, poller.ErrMissingFetcher)
}

func TestPollerWithSystemScheduler(t *testing.T) {
	fetcher := &scriptedFetcher{replies: []reply{{status: "pending"}, {status: "success"}}}
	p, err := poller.New(context.Background(), "BK-1", poller.Config{Fetcher: fetcher, Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(p.Cancel)
	require.NoError(t, p.Start())
	require.Eventually(t, func() bool {
		return p.Snapshot().State == poller.StateSucceeded
	}, 2*time.Second, 5*time.Millisecond)
}
