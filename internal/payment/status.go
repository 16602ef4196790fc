package payment

import "strings"

// Status is the canonical payment status shown on the checkout page.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRefunded Status = "refunded"
	StatusUnknown  Status = "unknown"
)

// Terminal reports whether the status ends automatic confirmation polling.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// NormalizeStatus maps a free-form provider status onto Status.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "null", "undefined":
		return StatusUnknown
	case "paid", "success", "completed":
		return StatusSuccess
	case "failed":
		return StatusFailed
	case "refunded":
		return StatusRefunded
	default:
		return StatusPending
	}
}
