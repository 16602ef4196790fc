package poller

import (
	"time"

	"github.com/noah-isme/tour-checkout/internal/payment"
)

// State is the confirmation poller state.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether automatic polling has stopped in this state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateTimedOut
}

// Snapshot is an immutable copy of the poller's observable state.
type Snapshot struct {
	BookingID string         `json:"bookingId"`
	State     State          `json:"state"`
	Status    payment.Status `json:"status"`
	Epoch     uint64         `json:"epoch"`
	// Attempts counts poll requests issued in the current epoch.
	Attempts int `json:"attempts"`
	// Failures counts transport errors in the current epoch.
	Failures  int       `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Seq increases with every state change and orders notifications.
	Seq       uint64               `json:"seq"`
	Cancelled bool                 `json:"cancelled,omitempty"`
	Report    payment.StatusReport `json:"-"`
}

// Elapsed is the time between the epoch start and the latest update.
func (s Snapshot) Elapsed() time.Duration {
	if s.StartedAt.IsZero() || s.UpdatedAt.Before(s.StartedAt) {
		return 0
	}
	return s.UpdatedAt.Sub(s.StartedAt)
}
