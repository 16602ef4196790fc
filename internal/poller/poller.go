// Package poller implements the payment confirmation state machine.
package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/tour-checkout/internal/obs"
	"github.com/noah-isme/tour-checkout/internal/payment"
)

const (
	DefaultInterval = 4 * time.Second
	DefaultTimeout  = 120 * time.Second
)

var (
	// ErrCancelled is returned by operations on a cancelled poller.
	ErrCancelled = errors.New("poller: cancelled")
	// ErrMissingFetcher is returned by New without a Fetcher.
	ErrMissingFetcher = errors.New("poller: fetcher is required")
	// ErrMissingBookingID is returned by New with an empty booking id.
	ErrMissingBookingID = errors.New("poller: booking id is required")
)

// Fetcher queries the current payment status of a booking.
type Fetcher interface {
	FetchStatus(ctx context.Context, bookingID string) (payment.StatusReport, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, bookingID string) (payment.StatusReport, error)

// FetchStatus implements Fetcher.
func (f FetcherFunc) FetchStatus(ctx context.Context, bookingID string) (payment.StatusReport, error) {
	return f(ctx, bookingID)
}

// Listener receives snapshots after each state change, in Seq order. It must
// not call back into the poller synchronously.
type Listener func(Snapshot)

// Config configures a Poller. Zero values select defaults.
type Config struct {
	Interval       time.Duration
	Timeout        time.Duration
	RequestTimeout time.Duration
	Fetcher        Fetcher
	Scheduler      Scheduler
	Clock          Clock
	Listener       Listener
	Logger         zerolog.Logger
}

// Poller drives one booking's confirmation polling. Status requests never
// overlap within an epoch: the next tick is scheduled only after the previous
// response has been applied.
type Poller struct {
	bookingID      string
	interval       time.Duration
	timeout        time.Duration
	requestTimeout time.Duration
	fetcher        Fetcher
	scheduler      Scheduler
	clock          Clock
	listener       Listener
	log            zerolog.Logger
	tracer         trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	status    payment.Status
	report    payment.StatusReport
	epoch     uint64
	attempts  int
	failures  int
	lastErr   string
	startedAt time.Time
	updatedAt time.Time
	timer     Timer
	inflight  bool
	cancelled bool
	seq       uint64

	notifyMu  sync.Mutex
	delivered uint64
}

// New creates an idle poller. The poller keeps the values of ctx but not its
// cancellation; call Cancel to stop it.
func New(ctx context.Context, bookingID string, cfg Config) (*Poller, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, ErrMissingBookingID
	}
	if cfg.Fetcher == nil {
		return nil, ErrMissingFetcher
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = SystemScheduler{}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Poller{
		bookingID:      bookingID,
		interval:       cfg.Interval,
		timeout:        cfg.Timeout,
		requestTimeout: cfg.RequestTimeout,
		fetcher:        cfg.Fetcher,
		scheduler:      cfg.Scheduler,
		clock:          cfg.Clock,
		listener:       cfg.Listener,
		log:            cfg.Logger.With().Str("component", "poller").Str("booking_id", bookingID).Logger(),
		tracer:         otel.Tracer("poller.Poller"),
		ctx:            pctx,
		cancel:         cancel,
		state:          StateIdle,
		status:         payment.StatusUnknown,
	}, nil
}

// BookingID returns the booking this poller watches.
func (p *Poller) BookingID() string { return p.bookingID }

// Start begins polling. It is a no-op while already polling; from a terminal
// state it begins a fresh epoch like Restart.
func (p *Poller) Start() error {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return ErrCancelled
	}
	if p.state == StatePolling {
		p.mu.Unlock()
		return nil
	}
	snap := p.beginEpochLocked()
	p.mu.Unlock()

	p.log.Info().Uint64("epoch", snap.Epoch).Msg("polling started")
	p.notify(snap)
	return nil
}

// Restart begins a new epoch from any state. Responses to requests issued in
// earlier epochs are discarded when they arrive.
func (p *Poller) Restart() error {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return ErrCancelled
	}
	snap := p.beginEpochLocked()
	p.mu.Unlock()

	p.log.Info().Uint64("epoch", snap.Epoch).Msg("polling restarted")
	p.notify(snap)
	return nil
}

// Tick polls immediately for the current epoch and returns the resulting
// snapshot. It does nothing unless the poller is polling with no request in
// flight.
func (p *Poller) Tick() Snapshot {
	p.mu.Lock()
	epoch := p.epoch
	p.mu.Unlock()
	return p.tick(epoch)
}

// Cancel stops the poller for good. Once Cancel returns no listener call is
// running or will start, and in-flight responses are dropped.
func (p *Poller) Cancel() {
	p.mu.Lock()
	if p.cancelled {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	p.stopTimerLocked()
	p.cancel()
	p.mu.Unlock()

	// Wait out a notification that started before cancellation.
	p.notifyMu.Lock()
	p.notifyMu.Unlock() //nolint:staticcheck
	p.log.Debug().Msg("poller cancelled")
}

// Snapshot returns the current state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Poller) beginEpochLocked() Snapshot {
	p.stopTimerLocked()
	now := p.clock.Now()
	p.epoch++
	p.state = StatePolling
	p.status = payment.StatusPending
	p.report = payment.StatusReport{}
	p.attempts = 0
	p.failures = 0
	p.lastErr = ""
	p.inflight = false
	p.startedAt = now
	p.updatedAt = now
	p.scheduleLocked()
	p.seq++
	return p.snapshotLocked()
}

func (p *Poller) scheduleLocked() {
	epoch := p.epoch
	p.timer = p.scheduler.AfterFunc(p.interval, func() { p.tick(epoch) })
}

func (p *Poller) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Poller) tick(epoch uint64) Snapshot {
	p.mu.Lock()
	if p.cancelled || p.state != StatePolling || p.epoch != epoch || p.inflight {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		return snap
	}
	p.stopTimerLocked()
	p.inflight = true
	p.attempts++
	attempt := p.attempts
	p.mu.Unlock()

	ctx, span := p.tracer.Start(p.ctx, "Poller.Tick", trace.WithAttributes(
		attribute.String("booking.id", p.bookingID),
		attribute.Int64("poll.epoch", int64(epoch)),
		attribute.Int("poll.attempt", attempt),
	))
	reqCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.requestTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, p.requestTimeout)
	}
	report, err := p.fetcher.FetchStatus(reqCtx, p.bookingID)
	cancel()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	return p.apply(epoch, report, err)
}

func (p *Poller) apply(epoch uint64, report payment.StatusReport, err error) Snapshot {
	p.mu.Lock()
	if p.cancelled || epoch != p.epoch || p.state != StatePolling {
		snap := p.snapshotLocked()
		p.mu.Unlock()
		obs.ObservePollAttempt("stale")
		p.log.Debug().Uint64("epoch", epoch).Uint64("current_epoch", snap.Epoch).Msg("discarding stale poll response")
		return snap
	}
	p.inflight = false
	now := p.clock.Now()
	p.updatedAt = now

	result := "error"
	if err != nil {
		p.failures++
		p.lastErr = err.Error()
	} else {
		p.report = report
		p.status = report.EffectiveStatus()
		p.lastErr = ""
		result = string(p.status)
	}

	switch {
	case err == nil && p.status == payment.StatusSuccess:
		p.state = StateSucceeded
	case err == nil && p.status == payment.StatusFailed:
		p.state = StateFailed
	case now.Sub(p.startedAt) >= p.timeout:
		p.state = StateTimedOut
	default:
		p.scheduleLocked()
	}
	p.seq++
	snap := p.snapshotLocked()
	p.mu.Unlock()

	obs.ObservePollAttempt(result)
	if err != nil {
		p.log.Warn().Err(err).Uint64("epoch", epoch).Int("attempt", snap.Attempts).Msg("poll attempt failed")
	}
	if snap.State.Terminal() {
		p.log.Info().
			Uint64("epoch", epoch).
			Str("state", string(snap.State)).
			Str("status", string(snap.Status)).
			Int("attempts", snap.Attempts).
			Dur("elapsed", snap.Elapsed()).
			Msg("polling finished")
	}
	p.notify(snap)
	return snap
}

func (p *Poller) snapshotLocked() Snapshot {
	return Snapshot{
		BookingID: p.bookingID,
		State:     p.state,
		Status:    p.status,
		Epoch:     p.epoch,
		Attempts:  p.attempts,
		Failures:  p.failures,
		LastError: p.lastErr,
		StartedAt: p.startedAt,
		UpdatedAt: p.updatedAt,
		Seq:       p.seq,
		Cancelled: p.cancelled,
		Report:    p.report,
	}
}

// notify delivers snap unless a newer snapshot was already delivered or the
// poller has been cancelled.
func (p *Poller) notify(snap Snapshot) {
	if p.listener == nil {
		return
	}
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	p.mu.Lock()
	cancelled := p.cancelled
	p.mu.Unlock()
	if cancelled || snap.Seq <= p.delivered {
		return
	}
	p.delivered = snap.Seq
	p.listener(snap)
}
