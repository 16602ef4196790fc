package payment

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/tour-checkout/internal/graph"
)

// DefaultCurrency is used when no record states a currency.
const DefaultCurrency = "VND"

var (
	paymentURLPattern = regexp.MustCompile(`(?i)^https?://\S+$`)
	currencyPattern   = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// IsPaymentURL reports whether s is an absolute http(s) URL with a host.
func IsPaymentURL(s string) bool {
	s = strings.TrimSpace(s)
	if !paymentURLPattern.MatchString(s) {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Host != ""
}

// ResolveAmount returns the payable amount of a single record. A direct
// payable alias found in any source wins; otherwise the amount is derived
// from the original price and discount, clamped at zero.
func ResolveAmount(record map[string]any) (decimal.Decimal, bool) {
	sources := Sources(record)
	if len(sources) == 0 {
		return decimal.Zero, false
	}
	if amount, ok := firstNumber(sources, payableAmountKeys); ok {
		return amount, true
	}
	original, ok := firstNumber(sources, originalAmountKeys)
	if !ok {
		return decimal.Zero, false
	}
	discount, hasDiscount := firstNumber(sources, discountKeys)
	if !hasDiscount || !discount.IsPositive() {
		return original, true
	}
	net := original.Sub(discount)
	if net.IsNegative() {
		return decimal.Zero, true
	}
	return net, true
}

// ResolveURL returns the redirect URL of a single record. Known aliases are
// tried first across all sources, then the whole record graph is searched.
func ResolveURL(record map[string]any) (string, bool) {
	sources := Sources(record)
	if len(sources) == 0 {
		return "", false
	}
	if u, ok := firstString(sources, urlKeys, IsPaymentURL); ok {
		return u, true
	}
	for _, src := range sources {
		if u, ok := graph.FindString(src, isURLNode); ok {
			return strings.TrimSpace(u), true
		}
	}
	return "", false
}

func isURLNode(_ graph.Node, s string) bool {
	return IsPaymentURL(s)
}

// ResolveCurrency returns the upper-cased ISO code of a record or def.
func ResolveCurrency(record map[string]any, def string) string {
	if code, ok := firstString(Sources(record), currencyKeys, currencyPattern.MatchString); ok {
		return strings.ToUpper(code)
	}
	if def == "" {
		return DefaultCurrency
	}
	return def
}

// Payments returns the booking's embedded payment records, oldest first.
// Non-object entries are skipped.
func Payments(booking map[string]any) []map[string]any {
	if booking == nil {
		return nil
	}
	var items []any
	switch v := booking["payments"].(type) {
	case []any:
		items = v
	case []map[string]any:
		out := make([]map[string]any, 0, len(v))
		for _, p := range v {
			if p != nil {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if p := asObject(item); p != nil {
			out = append(out, p)
		}
	}
	return out
}

// LatestPayment returns the newest embedded payment record, or nil.
func LatestPayment(booking map[string]any) map[string]any {
	payments := Payments(booking)
	if len(payments) == 0 {
		return nil
	}
	return payments[len(payments)-1]
}

// ResolveBookingAmount resolves the amount of a booking, falling back to its
// payments newest first.
func ResolveBookingAmount(booking map[string]any) (decimal.Decimal, bool) {
	if amount, ok := ResolveAmount(booking); ok {
		return amount, true
	}
	payments := Payments(booking)
	for i := len(payments) - 1; i >= 0; i-- {
		if amount, ok := ResolveAmount(payments[i]); ok {
			return amount, true
		}
	}
	return decimal.Zero, false
}

// ResolveBookingURL resolves the redirect URL of a booking: booking aliases,
// then each payment newest first, then any URL anywhere in the booking.
func ResolveBookingURL(booking map[string]any) (string, bool) {
	if booking == nil {
		return "", false
	}
	if u, ok := firstString(Sources(booking), urlKeys, IsPaymentURL); ok {
		return u, true
	}
	payments := Payments(booking)
	for i := len(payments) - 1; i >= 0; i-- {
		if u, ok := ResolveURL(payments[i]); ok {
			return u, true
		}
	}
	if u, ok := graph.FindString(booking, isURLNode); ok {
		return strings.TrimSpace(u), true
	}
	return "", false
}
