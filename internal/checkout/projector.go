package checkout

import (
	"github.com/noah-isme/tour-checkout/internal/obs"
	"github.com/noah-isme/tour-checkout/internal/payment"
	"github.com/noah-isme/tour-checkout/internal/qr"
)

// Projector turns a booking and the latest status report into the payment
// view shown on the checkout page.
type Projector struct {
	QR       *qr.Engine
	Currency string
}

// NewProjector builds a Projector. A nil engine gets the default
// configuration; an empty currency selects payment.DefaultCurrency.
func NewProjector(engine *qr.Engine, currency string) *Projector {
	if engine == nil {
		engine = qr.NewEngine(qr.Config{})
	}
	if currency == "" {
		currency = payment.DefaultCurrency
	}
	return &Projector{QR: engine, Currency: currency}
}

// Project recomputes the view. The payment record is the report's payment
// when present, else the newest payment of the booking.
func (p *Projector) Project(booking map[string]any, report payment.StatusReport) payment.View {
	record := report.Payment
	if len(record) == 0 {
		record = payment.LatestPayment(booking)
	}

	view := payment.View{Status: report.EffectiveStatus()}
	if view.Status == payment.StatusUnknown && record != nil {
		if s, ok := record["status"].(string); ok {
			view.Status = payment.NormalizeStatus(s)
		}
	}

	amount, ok := payment.ResolveAmount(record)
	if !ok {
		amount, ok = payment.ResolveBookingAmount(booking)
	}
	if ok {
		view.Amount.Decimal, view.Amount.Valid = amount, true
	}

	url, ok := payment.ResolveURL(record)
	if !ok {
		url, _ = payment.ResolveBookingURL(booking)
	}
	view.PaymentURL = url

	view.Currency = payment.ResolveCurrency(record, payment.ResolveCurrency(booking, p.currency()))

	res := p.engine().Derive(url, record, booking)
	view.QRImage, view.QRSource = res.Image, string(res.Source)
	obs.ObserveQRDerivation(string(res.Source))
	return view
}

func (p *Projector) engine() *qr.Engine {
	if p == nil || p.QR == nil {
		return qr.NewEngine(qr.Config{})
	}
	return p.QR
}

func (p *Projector) currency() string {
	if p == nil || p.Currency == "" {
		return payment.DefaultCurrency
	}
	return p.Currency
}
