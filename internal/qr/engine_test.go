package qr_test

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tour-checkout/internal/qr"
)

const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

func TestDeriveEmbeddedBase64WinsOverURL(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	record := map[string]any{
		"payment_url": "https://pay.x/abc",
		"meta":        map[string]any{"qr_base64": pixelPNG},
	}
	res := engine.Derive("https://pay.x/abc", record)
	require.Equal(t, qr.SourceEmbedded, res.Source)
	require.Equal(t, "data:image/png;base64,"+pixelPNG, res.Image)
}

func TestDeriveEmbeddedInStringMeta(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	dataURL := "data:image/png;base64," + pixelPNG

	record := map[string]any{
		"status": "pending",
		"meta":   `{"payment_url":"https://pay.x/abc","qr_code":"` + dataURL + `"}`,
	}
	res := engine.Derive("https://pay.x/abc", record)
	require.Equal(t, qr.SourceEmbedded, res.Source)
	require.Equal(t, dataURL, res.Image)

	nested := map[string]any{"meta": `{"data":{"qr_base64":"` + pixelPNG + `"}}`}
	res = engine.Derive("https://pay.x/abc", nested)
	require.Equal(t, qr.SourceEmbedded, res.Source)
	require.Equal(t, dataURL, res.Image)

	res = engine.Derive("https://pay.x/abc", map[string]any{"meta": `{"qr_code": "not json`})
	require.Equal(t, qr.SourceSynthesized, res.Source)
}

func TestDeriveWrapsAnyBase64UnderQRKey(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	for _, payload := range []string{"QUJDREVGR0hJSktMTU5PUA==", "aGVsbG8gd29ybGQ=", "iVBORw0KGgo="} {
		res := engine.Derive("https://pay.x/abc", map[string]any{"qr_base64": payload})
		require.Equal(t, qr.SourceEmbedded, res.Source, payload)
		require.Equal(t, "data:image/png;base64,"+payload, res.Image)
	}

	res := engine.Derive("https://pay.x/checkout?ref=" + url.QueryEscape("aGVsbG8gd29ybGQ="))
	require.Equal(t, qr.SourceSynthesized, res.Source)
	res = engine.Derive("https://pay.x/checkout?qr=" + url.QueryEscape("aGVsbG8gd29ybGQ="))
	require.Equal(t, qr.SourceQueryParam, res.Source)
	require.Equal(t, "data:image/png;base64,aGVsbG8gd29ybGQ=", res.Image)
}

func TestDeriveEmbeddedDataURLAndImageURL(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})

	dataURL := "data:image/png;base64," + pixelPNG
	res := engine.Derive("", map[string]any{"QR-Code": map[string]any{"image": dataURL}})
	require.Equal(t, dataURL, res.Image)

	res = engine.Derive("", map[string]any{"qrImage": "https://cdn.example.com/qr/abc.PNG"})
	require.Equal(t, "https://cdn.example.com/qr/abc.PNG", res.Image)

	res = engine.Derive("", map[string]any{"qr_url": "https://img.vietqr.io/image/970436-123-compact.jpg?amount=1000"})
	require.Equal(t, qr.SourceEmbedded, res.Source)
}

func TestDeriveIgnoresNonQRKeysAndJunk(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	record := map[string]any{
		"logo":    "https://cdn.example.com/logo.png",
		"qr_code": "not-an-image",
		"qrToken": "tok_abc-123",
	}
	res := engine.Derive("", record)
	require.False(t, res.Found())
	require.Equal(t, qr.SourceNone, res.Source)
}

func TestDeriveSearchesBookingAfterPayment(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	booking := map[string]any{"qr": "https://cdn.example.com/booking-qr.png"}
	res := engine.Derive("https://pay.x/abc", map[string]any{"status": "pending"}, booking)
	require.Equal(t, "https://cdn.example.com/booking-qr.png", res.Image)

	res = engine.Derive("https://pay.x/abc", nil, booking)
	require.Equal(t, "https://cdn.example.com/booking-qr.png", res.Image)
}

func TestDeriveQueryParameter(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	payURL := "https://pay.x/checkout?order=1&qr=" + url.QueryEscape("https://cdn.example.com/q/1.png")
	res := engine.Derive(payURL)
	require.Equal(t, qr.SourceQueryParam, res.Source)
	require.Equal(t, "https://cdn.example.com/q/1.png", res.Image)

	payURL = "https://pay.x/checkout?img=" + url.QueryEscape(pixelPNG)
	res = engine.Derive(payURL)
	require.Equal(t, qr.SourceQueryParam, res.Source)
	require.True(t, strings.HasPrefix(res.Image, "data:image/png;base64,"))
}

func TestDeriveProviderURLIsImage(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	payURL := "https://qr.sepay.vn/img?acc=0123&bank=VCB&amount=100000&des=BK1"
	res := engine.Derive(payURL)
	require.Equal(t, qr.SourceProviderURL, res.Source)
	require.Equal(t, payURL, res.Image)

	custom := qr.NewEngine(qr.Config{ProviderHosts: []string{"https://qr.bank.example/render"}})
	res = custom.Derive("https://qr.bank.example/render/42")
	require.Equal(t, qr.SourceProviderURL, res.Source)
	res = custom.Derive(payURL)
	require.Equal(t, qr.SourceSynthesized, res.Source)
}

func TestDeriveSynthesizedFallback(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	res := engine.Derive("https://pay.x/abc", map[string]any{"status": "pending"})
	require.Equal(t, qr.SourceSynthesized, res.Source)
	require.Equal(t, qr.DefaultRenderEndpoint+url.QueryEscape("https://pay.x/abc"), res.Image)

	custom := qr.NewEngine(qr.Config{RenderEndpoint: "https://qr.internal/render?d="})
	require.Equal(t, "https://qr.internal/render?d=https%3A%2F%2Fpay.x%2Fabc", custom.Derive("https://pay.x/abc").Image)
}

func TestDeriveNothingAvailable(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	require.False(t, engine.Derive("").Found())
	require.False(t, engine.Derive("  ", map[string]any{}).Found())
}

func TestDeriveLocalMode(t *testing.T) {
	engine := qr.NewEngine(qr.Config{Mode: qr.ModeLocal, Size: 128})
	res := engine.Derive("https://pay.x/abc")
	require.Equal(t, qr.SourceLocal, res.Source)
	requirePNGDataURL(t, res.Image)

	emv := "00020101021238570010A000000727012700069704360113012345678900208QRIBFTTA53037045802VN6304ABCD"
	res = engine.Derive("", map[string]any{"qr_data": emv})
	require.Equal(t, qr.SourceEmbedded, res.Source)
	requirePNGDataURL(t, res.Image)

	remote := qr.NewEngine(qr.Config{})
	res = remote.Derive("", map[string]any{"qr_data": emv})
	require.Equal(t, qr.DefaultRenderEndpoint+url.QueryEscape(emv), res.Image)
}

func TestDeriveIsDeterministic(t *testing.T) {
	engine := qr.NewEngine(qr.Config{})
	record := map[string]any{
		"qr_b": "https://cdn.example.com/b.png",
		"qr_a": "https://cdn.example.com/a.png",
	}
	first := engine.Derive("https://pay.x/abc", record)
	require.Equal(t, "https://cdn.example.com/a.png", first.Image)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, engine.Derive("https://pay.x/abc", record))
	}
}

func TestRender(t *testing.T) {
	png, err := qr.Render("hello", 0)
	require.NoError(t, err)
	require.Equal(t, "image/png", http.DetectContentType(png))
}

func requirePNGDataURL(t *testing.T, image string) {
	t.Helper()
	payload, ok := strings.CutPrefix(image, "data:image/png;base64,")
	require.True(t, ok, image)
	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	require.Equal(t, "image/png", http.DetectContentType(raw))
}
