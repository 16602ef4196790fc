package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var notReady atomic.Bool

// SetReady toggles readiness; the server clears it while draining.
func SetReady(ready bool) { notReady.Store(!ready) }

// IsReady reports the readiness flag.
func IsReady() bool { return !notReady.Load() }

// Checker represents dependencies that can be probed for readiness. A
// dependency that is not configured reports nil.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
	PingBookingAPI(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes the dependencies concurrently. Postgres and Redis failures
// take the instance out of rotation; a booking API outage only marks the
// response degraded.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		writeStatus(w, http.StatusServiceUnavailable, Report{Status: "shutting_down"})
		return
	}
	if h.Checker == nil {
		writeStatus(w, http.StatusServiceUnavailable, Report{Status: "unavailable"})
		return
	}
	ctx := r.Context()
	var dbErr, redisErr, bookingErr error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); dbErr = h.Checker.PingDB(ctx, h.dbTimeout()) }()
	go func() { defer wg.Done(); redisErr = h.Checker.PingRedis(ctx, h.redisTimeout()) }()
	go func() { defer wg.Done(); bookingErr = h.Checker.PingBookingAPI(ctx) }()
	wg.Wait()

	rep := Report{Status: "ok", Checks: map[string]string{
		"db":         statusOf(dbErr),
		"redis":      statusOf(redisErr),
		"bookingApi": statusOf(bookingErr),
	}}
	code := http.StatusOK
	switch {
	case dbErr != nil || redisErr != nil:
		rep.Status = "unavailable"
		code = http.StatusServiceUnavailable
	case bookingErr != nil:
		rep.Status = "degraded"
	}
	writeStatus(w, code, rep)
}

// Report is the readiness response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeStatus(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}

func statusOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
