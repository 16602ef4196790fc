// Package checkout runs payment confirmation sessions for bookings.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tour-checkout/internal/obs"
	"github.com/noah-isme/tour-checkout/internal/outcome"
	"github.com/noah-isme/tour-checkout/internal/payment"
	"github.com/noah-isme/tour-checkout/internal/poller"
)

var (
	// ErrSessionNotFound is returned when no session exists for a booking.
	ErrSessionNotFound = errors.New("checkout: session not found")
	// ErrNoPaymentURL is returned by Redirect when no payment URL resolved.
	ErrNoPaymentURL = errors.New("checkout: no payment url")
	// ErrInvalidBookingID is returned for an empty booking id.
	ErrInvalidBookingID = errors.New("checkout: invalid booking id")
	// ErrShutdown is returned once Shutdown has been called.
	ErrShutdown = errors.New("checkout: service shut down")
)

const defaultSinkTimeout = 5 * time.Second

// Bookings is the booking API used by sessions.
type Bookings interface {
	poller.Fetcher
	FetchBooking(ctx context.Context, bookingID string) (map[string]any, error)
	Invalidate(ctx context.Context, bookingID string) error
}

// Session is the externally visible state of a checkout session.
type Session struct {
	ID        string          `json:"sessionId"`
	BookingID string          `json:"bookingId"`
	View      payment.View    `json:"view"`
	Poll      poller.Snapshot `json:"poll"`
	OpenedAt  time.Time       `json:"openedAt"`
	// Remote marks a session loaded from the snapshot store rather than
	// owned by this process.
	Remote bool `json:"remote,omitempty"`
}

// Config wires a Service. Poll supplies interval, timeout, request timeout,
// scheduler and clock; its Fetcher, Listener and Logger are set per session.
type Config struct {
	Bookings     Bookings
	Projector    *Projector
	Opener       Opener
	Outcomes     outcome.Sink
	Snapshots    SnapshotStore
	Poll         poller.Config
	Logger       zerolog.Logger
	NewSessionID func() string
	SinkTimeout  time.Duration
}

// Service keeps at most one live session per booking.
type Service struct {
	bookings    Bookings
	projector   *Projector
	opener      Opener
	outcomes    outcome.Sink
	snapshots   SnapshotStore
	poll        poller.Config
	clock       poller.Clock
	log         zerolog.Logger
	newID       func() string
	sinkTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	redirects sync.WaitGroup
	sinks     sync.WaitGroup
}

type session struct {
	id        string
	bookingID string
	openedAt  time.Time
	poller    *poller.Poller

	mu       sync.Mutex
	booking  map[string]any
	view     payment.View
	snap     poller.Snapshot
	recorded uint64
	closed   bool
	jobs     []sinkJob
	draining bool
}

// sinkJob is one backend write for a session, applied in order off the
// poller's notification path.
type sinkJob struct {
	current Session
	record  bool
	remove  bool
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Bookings == nil {
		return nil, errors.New("checkout: bookings client is required")
	}
	if cfg.Projector == nil {
		cfg.Projector = NewProjector(nil, "")
	}
	if cfg.Opener == nil {
		cfg.Opener = LogOpener{Logger: cfg.Logger}
	}
	if cfg.Snapshots == nil {
		cfg.Snapshots = NewRedisSnapshots(nil, 0)
	}
	if cfg.NewSessionID == nil {
		cfg.NewSessionID = uuid.NewString
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	clock := cfg.Poll.Clock
	if clock == nil {
		clock = poller.SystemClock{}
	}
	return &Service{
		bookings:    cfg.Bookings,
		projector:   cfg.Projector,
		opener:      cfg.Opener,
		outcomes:    cfg.Outcomes,
		snapshots:   cfg.Snapshots,
		poll:        cfg.Poll,
		clock:       clock,
		log:         cfg.Logger.With().Str("component", "checkout").Logger(),
		newID:       cfg.NewSessionID,
		sinkTimeout: cfg.SinkTimeout,
		sessions:    make(map[string]*session),
	}, nil
}

// Open returns the live session for bookingID, creating it and starting the
// poller when none exists. Re-opening a finished session starts a new epoch.
func (s *Service) Open(ctx context.Context, bookingID string) (Session, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return Session{}, ErrInvalidBookingID
	}
	if sess, err := s.lookup(bookingID); err == nil {
		return s.reopen(sess)
	} else if !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}

	doc, err := s.bookings.FetchBooking(ctx, bookingID)
	if err != nil {
		return Session{}, fmt.Errorf("checkout: fetch booking %s: %w", bookingID, err)
	}

	sess := &session{
		id:        s.newID(),
		bookingID: bookingID,
		openedAt:  s.clock.Now(),
		booking:   doc,
	}
	sess.view = s.projector.Project(doc, payment.StatusReport{})

	pcfg := s.poll
	pcfg.Fetcher = s.bookings
	pcfg.Logger = s.log
	pcfg.Listener = func(snap poller.Snapshot) { s.observe(sess, snap) }
	p, err := poller.New(ctx, bookingID, pcfg)
	if err != nil {
		return Session{}, err
	}
	sess.poller = p
	sess.snap = p.Snapshot()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.Cancel()
		return Session{}, ErrShutdown
	}
	if existing, ok := s.sessions[bookingID]; ok {
		s.mu.Unlock()
		p.Cancel()
		return s.reopen(existing)
	}
	s.sessions[bookingID] = sess
	s.mu.Unlock()

	obs.ObserveSessionState("opened", -1)
	s.log.Info().
		Str("booking_id", bookingID).
		Str("session_id", sess.id).
		Str("qr_source", sess.view.QRSource).
		Msg("checkout session opened")

	if err := p.Start(); err != nil {
		return Session{}, err
	}
	return sess.export(), nil
}

func (s *Service) reopen(sess *session) (Session, error) {
	if err := sess.poller.Start(); err != nil {
		return Session{}, err
	}
	return sess.export(), nil
}

// Get returns the session for bookingID. Sessions owned by another instance
// are served from the snapshot store.
func (s *Service) Get(ctx context.Context, bookingID string) (Session, error) {
	sess, err := s.lookup(bookingID)
	if err == nil {
		return sess.export(), nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}
	remote, ok, err := s.snapshots.Load(ctx, bookingID)
	if err != nil {
		return Session{}, fmt.Errorf("checkout: load snapshot: %w", err)
	}
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	remote.Remote = true
	return remote, nil
}

// Restart begins a new polling epoch for the booking's session.
func (s *Service) Restart(_ context.Context, bookingID string) (Session, error) {
	sess, err := s.lookup(bookingID)
	if err != nil {
		return Session{}, err
	}
	if err := sess.poller.Restart(); err != nil {
		return Session{}, err
	}
	return sess.export(), nil
}

// Redirect hands the resolved payment URL to the opener without waiting for
// it, optionally restarting the poller. It returns the URL and the session.
func (s *Service) Redirect(ctx context.Context, bookingID string, restart bool) (string, Session, error) {
	sess, err := s.lookup(bookingID)
	if err != nil {
		return "", Session{}, err
	}
	current := sess.export()
	url := current.View.PaymentURL
	if url == "" {
		return "", current, ErrNoPaymentURL
	}

	s.redirects.Add(1)
	go func(ctx context.Context) {
		defer s.redirects.Done()
		ctx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
		defer cancel()
		if err := s.opener.OpenExternal(ctx, url); err != nil {
			s.log.Warn().Err(err).Str("booking_id", bookingID).Msg("external redirect failed")
		}
	}(context.WithoutCancel(ctx))

	if restart {
		if err := sess.poller.Restart(); err != nil {
			return "", Session{}, err
		}
	}
	return url, sess.export(), nil
}

// Close cancels the booking's session and forgets it. The snapshot is deleted
// after any writes still queued for the session.
func (s *Service) Close(_ context.Context, bookingID string) error {
	bookingID = strings.TrimSpace(bookingID)
	s.mu.Lock()
	sess, ok := s.sessions[bookingID]
	if ok {
		delete(s.sessions, bookingID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	sess.poller.Cancel()
	obs.ObserveSessionState("closed", -1)
	sess.mu.Lock()
	sess.closed = true
	s.enqueueLocked(sess, sinkJob{remove: true})
	sess.mu.Unlock()
	s.log.Info().Str("booking_id", bookingID).Str("session_id", sess.id).Msg("checkout session closed")
	return nil
}

// Shutdown cancels every session and waits for pending redirects and
// session writes, or ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.poller.Cancel()
	}

	done := make(chan struct{})
	go func() {
		s.redirects.Wait()
		s.sinks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of live sessions.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Service) lookup(bookingID string) (*session, error) {
	bookingID = strings.TrimSpace(bookingID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	sess, ok := s.sessions[bookingID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// observe is the poller listener: it reprojects the view and queues the
// snapshot mirror and, once per terminal epoch, the outcome.
func (s *Service) observe(sess *session, snap poller.Snapshot) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.closed || snap.Seq < sess.snap.Seq {
		return
	}
	sess.snap = snap
	sess.view = s.projector.Project(sess.booking, snap.Report)
	record := snap.State.Terminal() && snap.Epoch > sess.recorded
	if record {
		sess.recorded = snap.Epoch
		obs.ObserveSessionState(string(snap.State), snap.Elapsed().Seconds())
	}
	s.enqueueLocked(sess, sinkJob{current: sess.exportLocked(), record: record})
}

// enqueueLocked appends a job and starts the session's drain goroutine when
// none is running. A plain mirror replaces a plain mirror still waiting.
func (s *Service) enqueueLocked(sess *session, job sinkJob) {
	if n := len(sess.jobs); n > 0 && !job.record && !job.remove {
		if last := sess.jobs[n-1]; !last.record && !last.remove {
			sess.jobs[n-1] = job
			return
		}
	}
	sess.jobs = append(sess.jobs, job)
	if sess.draining {
		return
	}
	sess.draining = true
	s.sinks.Add(1)
	go s.drain(sess)
}

func (s *Service) drain(sess *session) {
	defer s.sinks.Done()
	for {
		sess.mu.Lock()
		if len(sess.jobs) == 0 {
			sess.draining = false
			sess.mu.Unlock()
			return
		}
		job := sess.jobs[0]
		sess.jobs = sess.jobs[1:]
		sess.mu.Unlock()
		s.apply(sess.bookingID, job)
	}
}

func (s *Service) apply(bookingID string, job sinkJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sinkTimeout)
	defer cancel()

	if job.remove {
		if err := s.snapshots.Delete(ctx, bookingID); err != nil {
			s.log.Warn().Err(err).Str("booking_id", bookingID).Msg("delete session snapshot failed")
		}
		return
	}
	if err := s.snapshots.Save(ctx, job.current); err != nil {
		s.log.Warn().Err(err).Str("booking_id", bookingID).Msg("save session snapshot failed")
	}
	if !job.record {
		return
	}
	if job.current.Poll.State == poller.StateSucceeded {
		if err := s.bookings.Invalidate(ctx, bookingID); err != nil {
			s.log.Warn().Err(err).Str("booking_id", bookingID).Msg("invalidate booking cache failed")
		}
	}
	if s.outcomes != nil {
		if err := s.outcomes.Record(ctx, toOutcome(job.current)); err != nil {
			s.log.Warn().Err(err).Str("booking_id", bookingID).Uint64("epoch", job.current.Poll.Epoch).Msg("record outcome failed")
		}
	}
}

func toOutcome(s Session) outcome.Outcome {
	return outcome.Outcome{
		SessionID:  s.ID,
		BookingID:  s.BookingID,
		Epoch:      s.Poll.Epoch,
		State:      string(s.Poll.State),
		Status:     string(s.Poll.Status),
		Attempts:   s.Poll.Attempts,
		Failures:   s.Poll.Failures,
		Amount:     s.View.Amount,
		Currency:   s.View.Currency,
		PaymentURL: s.View.PaymentURL,
		StartedAt:  s.Poll.StartedAt,
		FinishedAt: s.Poll.UpdatedAt,
	}
}

func (sess *session) export() Session {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.exportLocked()
}

func (sess *session) exportLocked() Session {
	return Session{
		ID:        sess.id,
		BookingID: sess.bookingID,
		View:      sess.view,
		Poll:      sess.snap,
		OpenedAt:  sess.openedAt,
	}
}
