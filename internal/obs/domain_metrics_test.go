package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tour-checkout/internal/obs"
)

func TestDomainMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("checkout_test", reg)

	before := testutil.ToFloat64(obs.QRDerivationsTotal.WithLabelValues("none"))
	obs.ObserveQRDerivation("")
	require.Equal(t, before+1, testutil.ToFloat64(obs.QRDerivationsTotal.WithLabelValues("none")))

	obs.ObservePollAttempt("pending")
	require.GreaterOrEqual(t, testutil.ToFloat64(obs.PollAttemptsTotal.WithLabelValues("pending")), 1.0)

	obs.ObserveSessionState("succeeded", 12)
	obs.ObserveSessionState("opened", -1)
	require.GreaterOrEqual(t, testutil.ToFloat64(obs.CheckoutSessionsTotal.WithLabelValues("opened")), 1.0)
	require.Positive(t, testutil.CollectAndCount(obs.CheckoutSessionDuration))

	obs.ObserveBookingCache("hit")
	require.GreaterOrEqual(t, testutil.ToFloat64(obs.BookingCacheTotal.WithLabelValues("hit")), 1.0)
}

func TestRequestLoggerIncludesBookingID(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/api/v1/checkout/{bookingId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/checkout/BK-7", nil))
	require.Equal(t, http.StatusBadGateway, rr.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "error", entry["level"])
	require.Equal(t, "BK-7", entry["booking_id"])
	require.Equal(t, "/api/v1/checkout/{bookingId}", entry["route"])
	require.EqualValues(t, 502, entry["status"])
}

func TestRequestLoggerScopesHandlerLogger(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(obs.RequestLogger{Logger: zerolog.New(&buf)}.Middleware)
	r.Get("/x", func(w http.ResponseWriter, req *http.Request) {
		zerolog.Ctx(req.Context()).Warn().Msg("inside")
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var inner map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inner))
	require.Equal(t, "inside", inner["message"])
	require.NotEmpty(t, inner["request_id"])
}
