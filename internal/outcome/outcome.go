// Package outcome records how checkout confirmation sessions ended.
package outcome

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Outcome is one terminal poller state for a session epoch.
type Outcome struct {
	SessionID  string              `json:"sessionId"`
	BookingID  string              `json:"bookingId"`
	Epoch      uint64              `json:"epoch"`
	State      string              `json:"state"`
	Status     string              `json:"status"`
	Attempts   int                 `json:"attempts"`
	Failures   int                 `json:"failures"`
	Amount     decimal.NullDecimal `json:"amount"`
	Currency   string              `json:"currency"`
	PaymentURL string              `json:"paymentUrl,omitempty"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt"`
}

// Succeeded reports whether the payment was confirmed.
func (o Outcome) Succeeded() bool { return o.State == "succeeded" }

// Sink persists or forwards an outcome.
type Sink interface {
	Record(ctx context.Context, o Outcome) error
}

// Recorder fans an outcome out to every configured sink. Sink failures are
// logged and joined; one failing sink does not stop the others.
type Recorder struct {
	sinks []Sink
	log   zerolog.Logger
}

// NewRecorder builds a Recorder; nil sinks are ignored.
func NewRecorder(logger zerolog.Logger, sinks ...Sink) *Recorder {
	r := &Recorder{log: logger.With().Str("component", "outcome_recorder").Logger()}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record implements Sink.
func (r *Recorder) Record(ctx context.Context, o Outcome) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if err := s.Record(ctx, o); err != nil {
			r.log.Error().Err(err).
				Str("booking_id", o.BookingID).
				Str("session_id", o.SessionID).
				Uint64("epoch", o.Epoch).
				Msg("record outcome failed")
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		r.log.Info().
			Str("booking_id", o.BookingID).
			Str("state", o.State).
			Uint64("epoch", o.Epoch).
			Int("attempts", o.Attempts).
			Msg("checkout outcome recorded")
	}
	return errors.Join(errs...)
}
