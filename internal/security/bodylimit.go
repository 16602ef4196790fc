package security

import (
	"net/http"

	"github.com/noah-isme/tour-checkout/internal/common"
)

// DefaultMaxBody bounds checkout request bodies. The checkout endpoints take
// at most a tiny JSON document.
const DefaultMaxBody int64 = 4 << 10

// BodyLimit rejects oversized request payloads.
type BodyLimit struct {
	Max int64
}

// Middleware answers 413 when the declared length exceeds Max and caps the
// body reader for chunked uploads.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	limit := b.Max
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > limit {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
