package qr

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// Render encodes content as a PNG QR code of the given size in pixels.
func Render(content string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(content, qrcode.Medium, size)
}

// render returns content as a PNG data URL. Content too long for a QR code
// reports false.
func (e *Engine) render(content string) (string, bool) {
	png, err := Render(content, e.size)
	if err != nil {
		return "", false
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), true
}
