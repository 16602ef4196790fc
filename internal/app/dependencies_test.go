package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tour-checkout/internal/app"
	"github.com/noah-isme/tour-checkout/internal/config"
	"github.com/noah-isme/tour-checkout/internal/poller"
	"github.com/noah-isme/tour-checkout/internal/ratelimit"
)

func testConfig(bookingURL, redisURL string) *config.Config {
	return &config.Config{
		AppEnv:              "test",
		Port:                "0",
		BookingAPIURL:       bookingURL,
		BookingAPITimeout:   time.Second,
		BookingCacheTTL:     time.Minute,
		PollInterval:        time.Hour,
		PollTimeout:         2 * time.Hour,
		DefaultCurrency:     "VND",
		QRRenderEndpoint:    "https://api.qrserver.com/v1/create-qr-code/?size=240x240&data=",
		QRFallbackMode:      "remote",
		RedisURL:            redisURL,
		TaskQueue:           "checkout",
		RetryMaxAttempts:    1,
		RetryBase:           time.Millisecond,
		CircuitMinRequests:  5,
		CircuitFailureRatio: 0.5,
		CircuitOpenFor:      time.Second,
		RateLimitWindow:     time.Minute,
		RateLimitMax:        5,
		SnapshotTTL:         time.Minute,
		IdempotencyTTL:      time.Second,
	}
}

func bookingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"id":"BK-1","total_price":"500000","payment_url":"https://pay.x/1"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildWithoutBackends(t *testing.T) {
	srv := bookingServer(t)
	deps, err := app.Build(context.Background(), testConfig(srv.URL, ""), zerolog.Nop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.Nil(t, deps.DB)
	require.Nil(t, deps.Redis)
	require.Nil(t, deps.TaskClient)
	require.IsType(t, &ratelimit.Memory{}, deps.Limiter)

	ctx := context.Background()
	require.NoError(t, deps.PingDB(ctx, time.Second))
	require.NoError(t, deps.PingRedis(ctx, time.Second))
	require.NoError(t, deps.PingBookingAPI(ctx))

	sess, err := deps.Checkout.Open(ctx, "BK-1")
	require.NoError(t, err)
	require.Equal(t, poller.StatePolling, sess.Poll.State)
	require.Equal(t, "500000", sess.View.Amount.Decimal.String())
	require.Equal(t, "https://pay.x/1", sess.View.PaymentURL)
	require.NoError(t, deps.Checkout.Shutdown(ctx))
}

func TestBuildWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	srv := bookingServer(t)
	deps, err := app.Build(context.Background(), testConfig(srv.URL, "redis://"+mr.Addr()), zerolog.Nop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	require.NotNil(t, deps.Redis)
	require.NotNil(t, deps.TaskClient)
	require.IsType(t, ratelimit.SlidingWindow{}, deps.Limiter)
	require.NoError(t, deps.PingRedis(context.Background(), time.Second))

	_, err = deps.Checkout.Open(context.Background(), "BK-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("checkout:booking:BK-1"))
	require.NoError(t, deps.Checkout.Shutdown(context.Background()))
	require.True(t, mr.Exists("checkout:session:BK-1"))
}
