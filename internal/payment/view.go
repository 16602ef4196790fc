package payment

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// View is the canonical payment view shown on the checkout page. Empty
// strings and an invalid Amount mean the value could not be resolved.
type View struct {
	Amount     decimal.NullDecimal
	Currency   string
	PaymentURL string
	QRImage    string
	QRSource   string
	Status     Status
}

type viewJSON struct {
	Amount     *json.Number `json:"amount"`
	Currency   string       `json:"currency"`
	PaymentURL *string      `json:"paymentUrl"`
	QRImage    *string      `json:"qrImage"`
	QRSource   string       `json:"qrSource,omitempty"`
	Status     Status       `json:"status"`
}

// MarshalJSON encodes unresolved fields as null and the amount as a number.
func (v View) MarshalJSON() ([]byte, error) {
	out := viewJSON{
		Currency:   v.Currency,
		PaymentURL: optional(v.PaymentURL),
		QRImage:    optional(v.QRImage),
		QRSource:   v.QRSource,
		Status:     v.Status,
	}
	if v.Amount.Valid {
		n := json.Number(v.Amount.Decimal.String())
		out.Amount = &n
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *View) UnmarshalJSON(data []byte) error {
	var in viewJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*v = View{Currency: in.Currency, QRSource: in.QRSource, Status: in.Status}
	if in.PaymentURL != nil {
		v.PaymentURL = *in.PaymentURL
	}
	if in.QRImage != nil {
		v.QRImage = *in.QRImage
	}
	if in.Amount != nil {
		d, err := decimal.NewFromString(in.Amount.String())
		if err != nil {
			return err
		}
		v.Amount = decimal.NewNullDecimal(d)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
