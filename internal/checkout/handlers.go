package checkout

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tour-checkout/internal/booking"
	"github.com/noah-isme/tour-checkout/internal/common"
	"github.com/noah-isme/tour-checkout/internal/poller"
	"github.com/noah-isme/tour-checkout/internal/resilience"
)

var bookingIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

type bookingParam struct {
	ID string `validate:"required,max=64,bookingid"`
}

// NewValidator returns a validator with the bookingid tag registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("bookingid", func(fl validator.FieldLevel) bool {
		return bookingIDPattern.MatchString(fl.Field().String())
	})
	return v
}

type redirectInput struct {
	Restart bool `json:"restart"`
}

// Handler exposes checkout sessions over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Mount registers the session routes under /checkout. throttle wraps the
// restart and redirect endpoints and may be nil.
func (h *Handler) Mount(r chi.Router, throttle func(http.Handler) http.Handler) {
	r.Route("/checkout/{bookingId}", func(c chi.Router) {
		c.Post("/", h.Open)
		c.Get("/", h.Get)
		c.Delete("/", h.Close)
		c.Group(func(g chi.Router) {
			if throttle != nil {
				g.Use(throttle)
			}
			g.Post("/restart", h.Restart)
			g.Post("/redirect", h.Redirect)
		})
	})
}

// BookingID extracts the booking id URL parameter.
func BookingID(r *http.Request) string {
	return chi.URLParam(r, "bookingId")
}

func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	sess, err := h.Svc.Open(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	sess, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	sess, err := h.Svc.Restart(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, sess)
}

func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	var in redirectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	url, sess, err := h.Svc.Redirect(r.Context(), id, in.Restart)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusAccepted, map[string]any{
		"redirectUrl": url,
		"session":     sess,
	})
}

func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id, ok := h.bookingID(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Close(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) bookingID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return "", false
	}
	v := h.Validate
	if v == nil {
		v = NewValidator()
	}
	param := bookingParam{ID: BookingID(r)}
	if err := v.Struct(param); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BOOKING_ID", "booking id is invalid", nil)
		return "", false
	}
	return param.ID, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		common.WriteAppError(w, nil)
		return
	}
	appErr := toAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", appErr.Code).Msg("checkout request failed")
	}
	common.WriteAppError(w, appErr)
}

func toAppError(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var apiErr *booking.APIError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return common.NewAppError("SESSION_NOT_FOUND", "no checkout session for booking", http.StatusNotFound, err)
	case errors.Is(err, booking.ErrNotFound):
		return common.NewAppError("BOOKING_NOT_FOUND", "booking not found", http.StatusNotFound, err)
	case errors.Is(err, ErrNoPaymentURL):
		return common.NewAppError("NO_PAYMENT_URL", "no payment url available for booking", http.StatusConflict, err)
	case errors.Is(err, ErrInvalidBookingID):
		return common.NewAppError("INVALID_BOOKING_ID", "booking id is invalid", http.StatusBadRequest, err)
	case errors.Is(err, poller.ErrCancelled), errors.Is(err, ErrShutdown):
		return common.NewAppError("SESSION_CLOSED", "checkout session is closed", http.StatusConflict, err)
	case errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("UPSTREAM_UNAVAILABLE", "booking service unavailable", http.StatusServiceUnavailable, err)
	case errors.As(err, &apiErr):
		return common.NewAppError("UPSTREAM_ERROR", "booking service error", http.StatusBadGateway, err).
			WithDetails(map[string]any{"status": apiErr.StatusCode})
	case errors.Is(err, booking.ErrMalformedResponse):
		return common.NewAppError("UPSTREAM_ERROR", "booking service returned an invalid response", http.StatusBadGateway, err)
	default:
		return common.NewAppError("INTERNAL", "internal error", http.StatusInternalServerError, err)
	}
}
