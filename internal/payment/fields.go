package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Field aliases observed across gateway payloads, most specific first.
var (
	payableAmountKeys = []string{
		"payable_amount", "payableAmount",
		"amount_due", "amountDue",
		"final_amount", "finalAmount",
		"final_total", "finalTotal",
		"final_price", "finalPrice",
		"net_amount", "netAmount",
		"amount_to_pay", "amountToPay",
		"amount",
		"value",
	}
	originalAmountKeys = []string{
		"original_amount", "originalAmount",
		"total_price", "totalPrice",
		"list_price", "listPrice",
		"subtotal", "sub_total", "subTotal",
		"grand_total", "grandTotal",
		"gross_amount", "grossAmount",
		"total_amount", "totalAmount",
		"total",
	}
	discountKeys = []string{
		"discount_total", "discountTotal",
		"discount_amount", "discountAmount",
		"promotion_discount", "promotionDiscount",
		"voucher_discount", "voucherDiscount",
		"discount",
	}
	urlKeys = []string{
		"payment_url", "paymentUrl", "paymentURL",
		"checkout_url", "checkoutUrl", "checkoutURL",
		"redirect_url", "redirectUrl", "redirectURL",
		"gateway_url", "gatewayUrl", "gatewayURL",
		"pay_url", "payUrl", "payURL",
		"deeplink", "deep_link", "deepLink",
		"url",
		"link",
		"href",
	}
	currencyKeys = []string{"currency", "currency_code", "currencyCode", "curr_code", "currCode"}
)

// metaKeys hold the gateway's side payload, either an object or a JSON string.
var metaKeys = []string{"meta", "metadata"}

// Sources returns the ordered maps a resolver searches for one record: the
// record itself, its parsed meta payload, then meta.data when that is an object.
func Sources(record map[string]any) []map[string]any {
	if record == nil {
		return nil
	}
	out := []map[string]any{record}
	for _, key := range metaKeys {
		meta := asObject(record[key])
		if meta == nil {
			continue
		}
		out = append(out, meta)
		if data := asObject(meta["data"]); data != nil {
			out = append(out, data)
		}
		break
	}
	return out
}

// asObject accepts a decoded object or a JSON-encoded object string.
// Anything else, including malformed JSON, yields nil.
func asObject(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		return val
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, s := range val {
			out[k] = s
		}
		return out
	case string:
		return DecodeObject([]byte(val))
	case json.RawMessage:
		return DecodeObject(val)
	case []byte:
		return DecodeObject(val)
	default:
		return nil
	}
}

// DecodeObject parses a JSON object keeping numbers as json.Number. Invalid
// input or a non-object document yields nil.
func DecodeObject(raw []byte) map[string]any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

// firstNumber returns the first alias across sources holding a finite,
// non-negative number.
func firstNumber(sources []map[string]any, keys []string) (decimal.Decimal, bool) {
	for _, src := range sources {
		for _, key := range keys {
			val, ok := src[key]
			if !ok {
				continue
			}
			if d, ok := toDecimal(val); ok && !d.IsNegative() {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

// toDecimal coerces JSON-ish numeric values. Strings go through standard
// numeric parsing; NaN, infinities and unparsable text are absent, not zero.
func toDecimal(val any) (decimal.Decimal, bool) {
	switch v := val.(type) {
	case float64:
		return fromFloat(v)
	case float32:
		return fromFloat(float64(v))
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		return parseDecimal(v.String())
	case decimal.Decimal:
		return v, true
	case string:
		return parseDecimal(v)
	default:
		return decimal.Zero, false
	}
}

func fromFloat(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, false
	}
	// Values that overflow a float64 are infinite under standard parsing.
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return decimal.Zero, false
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func firstString(sources []map[string]any, keys []string, accept func(string) bool) (string, bool) {
	for _, src := range sources {
		for _, key := range keys {
			s, ok := src[key].(string)
			if !ok {
				continue
			}
			s = strings.TrimSpace(s)
			if s != "" && accept(s) {
				return s, true
			}
		}
	}
	return "", false
}
