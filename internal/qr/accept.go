package qr

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/noah-isme/tour-checkout/internal/payment"
)

var (
	dataURLPattern = regexp.MustCompile(`(?is)^data:image/[a-z0-9.+-]+;base64,[a-z0-9+/=\s]+$`)
	base64Pattern  = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)
)

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".bmp": {},
}

// minBase64Len keeps short identifiers outside QR keys from being mistaken
// for image data.
const minBase64Len = 16

const pngDataURLPrefix = "data:image/png;base64,"

// emvPrefix opens every EMVCo merchant-presented QR payload (VietQR included).
const emvPrefix = "000201"

// isQRKey reports whether a key names a QR field, ignoring case and separators.
func isQRKey(key string) bool {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.Contains(b.String(), "qr")
}

func pathHasQRKey(keys []string) bool {
	for _, k := range keys {
		if isQRKey(k) {
			return true
		}
	}
	return false
}

// isDataURLImage accepts data:image/...;base64,... strings.
func isDataURLImage(s string) bool {
	return dataURLPattern.MatchString(s)
}

// wrapBase64 turns a bare base64 payload into a PNG data URL. Under a QR key
// any well-formed payload is taken as is. Elsewhere it must be long enough
// and decode to image bytes.
func wrapBase64(s string, underQRKey bool) (string, bool) {
	compact := strings.Join(strings.Fields(s), "")
	if !base64Pattern.MatchString(compact) {
		return "", false
	}
	if underQRKey {
		return pngDataURLPrefix + compact, true
	}
	if len(compact) < minBase64Len {
		return "", false
	}
	raw, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(compact, "="))
		if err != nil {
			return "", false
		}
	}
	if !strings.HasPrefix(http.DetectContentType(raw), "image/") {
		return "", false
	}
	return pngDataURLPrefix + compact, true
}

func isEMVPayload(s string) bool {
	return strings.HasPrefix(s, emvPrefix) && len(s) > len(emvPrefix)
}

// isImageURL accepts absolute http(s) URLs ending in an image extension or
// served from a known provider image path.
func (e *Engine) isImageURL(s string) bool {
	if !payment.IsPaymentURL(s) {
		return false
	}
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	if _, ok := imageExtensions[strings.ToLower(path.Ext(u.Path))]; ok {
		return true
	}
	return e.isProviderImage(u)
}

func (e *Engine) isProviderImage(u *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	p := strings.ToLower(u.Path)
	for _, pattern := range e.providerPatterns {
		if host == pattern.host && strings.HasPrefix(p, pattern.pathPrefix) {
			return true
		}
	}
	return false
}

// accept applies the image acceptance rules to one candidate. EMV text is only
// accepted when the candidate sits under a QR key, and is checked before
// base64 since an EMV payload is itself alphanumeric.
func (e *Engine) accept(candidate string, underQRKey bool) (string, Source, bool) {
	s := strings.TrimSpace(candidate)
	if s == "" {
		return "", SourceNone, false
	}
	if isDataURLImage(s) {
		return s, SourceEmbedded, true
	}
	if e.isImageURL(s) {
		return s, SourceEmbedded, true
	}
	if underQRKey && isEMVPayload(s) {
		return e.encode(s), SourceEmbedded, true
	}
	if img, ok := wrapBase64(s, underQRKey); ok {
		return img, SourceEmbedded, true
	}
	return "", SourceNone, false
}
