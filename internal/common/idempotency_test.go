package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tour-checkout/internal/common"
)

func TestIdemRejectsReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calls := 0
	handler := common.Idem{R: rdb, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func(path, key string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusAccepted, send("/api/v1/checkout/BK-1/redirect", "k1"))
	require.Equal(t, http.StatusConflict, send("/api/v1/checkout/BK-1/redirect", "k1"))
	require.Equal(t, http.StatusAccepted, send("/api/v1/checkout/BK-2/redirect", "k1"))
	require.Equal(t, http.StatusAccepted, send("/api/v1/checkout/BK-1/redirect", ""))
	require.Equal(t, 3, calls)

	mr.FastForward(2 * time.Minute)
	require.Equal(t, http.StatusAccepted, send("/api/v1/checkout/BK-1/redirect", "k1"))
}

func TestJSONErrorShape(t *testing.T) {
	rr := httptest.NewRecorder()
	common.JSONError(rr, http.StatusNotFound, "SESSION_NOT_FOUND", "no session", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":{"code":"SESSION_NOT_FOUND","message":"no session"}}`, rr.Body.String())
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	require.Equal(t, "10.0.0.9", common.ClientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", common.ClientIP(req))
}

func TestClientIPSkipsGarbageHops(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::ffff:10.0.0.9]:5555"
	req.Header.Set("X-Forwarded-For", "unknown, 198.51.100.4")
	require.Equal(t, "198.51.100.4", common.ClientIP(req))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "10.0.0.9", common.ClientIP(req))
}

func TestWriteAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteAppError(rr, common.NewAppError("UPSTREAM_ERROR", "booking service error", http.StatusBadGateway, nil).
		WithDetails(map[string]any{"status": 500}))
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.JSONEq(t, `{"error":{"code":"UPSTREAM_ERROR","message":"booking service error","details":{"status":500}}}`, rr.Body.String())

	rr = httptest.NewRecorder()
	common.WriteAppError(rr, &common.AppError{Message: "bad"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "BAD_REQUEST")
}
