// Package booking talks to the booking API that owns bookings and payments.
package booking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/tour-checkout/internal/obs"
	"github.com/noah-isme/tour-checkout/internal/payment"
	"github.com/noah-isme/tour-checkout/internal/resilience"
)

const maxBodyBytes = 1 << 20

var (
	// ErrNotFound is returned when the booking API does not know the booking.
	ErrNotFound = errors.New("booking: not found")
	// ErrMalformedResponse is returned when a response is not a JSON object.
	ErrMalformedResponse = errors.New("booking: malformed response")
)

// APIError is a non-2xx answer from the booking API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("booking: api responded %d", e.StatusCode)
	}
	return fmt.Sprintf("booking: api responded %d: %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	// HTTP carries retry, timeout and breaker settings. A nil HTTP.Client is
	// replaced with an instrumented default.
	HTTP   resilience.HTTPClient
	Cache  *Cache
	Logger zerolog.Logger
}

// Client queries booking payment status and booking details.
type Client struct {
	baseURL *url.URL
	token   string
	http    resilience.HTTPClient
	cache   *Cache
	log     zerolog.Logger
	tracer  trace.Tracer
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("booking: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("booking: invalid base url %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTP
	if httpClient.Client == nil {
		httpClient.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    httpClient,
		cache:   cfg.Cache,
		log:     cfg.Logger.With().Str("component", "booking_client").Logger(),
		tracer:  otel.Tracer("booking.Client"),
	}, nil
}

// FetchStatus queries GET /bookings/{id}/payment-status.
func (c *Client) FetchStatus(ctx context.Context, bookingID string) (payment.StatusReport, error) {
	ctx, span := c.tracer.Start(ctx, "BookingClient.FetchStatus", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	body, err := c.get(ctx, bookingID, "payment-status")
	if err != nil {
		recordSpanError(span, err)
		return payment.StatusReport{}, err
	}
	raw := payment.DecodeObject(body)
	if raw == nil {
		recordSpanError(span, ErrMalformedResponse)
		return payment.StatusReport{}, ErrMalformedResponse
	}
	report := payment.ReportFromMap(raw)
	span.SetAttributes(attribute.String("payment.status", string(report.EffectiveStatus())))
	return report, nil
}

// FetchBooking queries GET /bookings/{id}, consulting the cache first.
func (c *Client) FetchBooking(ctx context.Context, bookingID string) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "BookingClient.FetchBooking", trace.WithAttributes(attribute.String("booking.id", bookingID)))
	defer span.End()

	if cached, ok, err := c.cache.Get(ctx, bookingID); err != nil {
		c.log.Warn().Err(err).Str("booking_id", bookingID).Msg("booking cache read failed")
	} else if ok {
		if doc := unwrapData(payment.DecodeObject(cached)); doc != nil {
			obs.ObserveBookingCache("hit")
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return doc, nil
		}
	}
	obs.ObserveBookingCache("miss")

	body, err := c.get(ctx, bookingID, "")
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	doc := unwrapData(payment.DecodeObject(body))
	if doc == nil {
		recordSpanError(span, ErrMalformedResponse)
		return nil, ErrMalformedResponse
	}
	if err := c.cache.Set(ctx, bookingID, body); err != nil {
		c.log.Warn().Err(err).Str("booking_id", bookingID).Msg("booking cache write failed")
	}
	return doc, nil
}

// Invalidate forgets a cached booking, e.g. once its payment settled.
func (c *Client) Invalidate(ctx context.Context, bookingID string) error {
	return c.cache.Invalidate(ctx, bookingID)
}

func (c *Client) get(ctx context.Context, bookingID, suffix string) ([]byte, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, ErrNotFound
	}
	endpoint := c.baseURL.JoinPath("bookings", bookingID)
	if suffix != "" {
		endpoint = endpoint.JoinPath(suffix)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("booking: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var statusErr *resilience.StatusError
		if errors.As(err, &statusErr) {
			return nil, &APIError{StatusCode: statusErr.StatusCode}
		}
		return nil, fmt.Errorf("booking: request %s: %w", endpoint.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("booking: read response: %w", err)
	}
	c.log.Debug().
		Str("path", endpoint.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(started)).
		Msg("booking api call")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}
	return body, nil
}

// unwrapData accepts both bare documents and {"data": {...}} envelopes.
func unwrapData(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	if len(doc) == 1 {
		if data, ok := doc["data"].(map[string]any); ok {
			return data
		}
	}
	return doc
}

func snippet(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) > 256 {
		body = body[:256]
	}
	return string(body)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
