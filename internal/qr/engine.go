// Package qr locates or synthesizes a scannable QR image for a payment.
package qr

import (
	"net/url"
	"sort"
	"strings"

	"github.com/noah-isme/tour-checkout/internal/graph"
	"github.com/noah-isme/tour-checkout/internal/payment"
)

// Source tells which tier produced a QR image.
type Source string

const (
	SourceNone        Source = ""
	SourceEmbedded    Source = "embedded"
	SourceQueryParam  Source = "query_param"
	SourceProviderURL Source = "provider_url"
	SourceSynthesized Source = "synthesized"
	SourceLocal       Source = "local"
)

// Mode selects how the last-resort QR is produced.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
)

const (
	DefaultRenderEndpoint = "https://api.qrserver.com/v1/create-qr-code/?size=240x240&data="
	DefaultSize           = 240
)

// DefaultProviderHosts lists provider QR image endpoints as host/path-prefix.
var DefaultProviderHosts = []string{"qr.sepay.vn/img", "img.vietqr.io/image/"}

// Config configures an Engine.
type Config struct {
	RenderEndpoint string
	ProviderHosts  []string
	Mode           Mode
	Size           int
}

// Result is a derived QR image.
type Result struct {
	Image  string
	Source Source
}

// Found reports whether an image was derived.
func (r Result) Found() bool { return r.Image != "" }

type providerPattern struct {
	host       string
	pathPrefix string
}

// Engine derives QR images. It is safe for concurrent use.
type Engine struct {
	endpoint         string
	mode             Mode
	size             int
	providerPatterns []providerPattern
}

// NewEngine builds an Engine, filling unset fields with defaults.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		endpoint: strings.TrimSpace(cfg.RenderEndpoint),
		mode:     cfg.Mode,
		size:     cfg.Size,
	}
	if e.endpoint == "" {
		e.endpoint = DefaultRenderEndpoint
	}
	if e.mode != ModeLocal {
		e.mode = ModeRemote
	}
	if e.size <= 0 {
		e.size = DefaultSize
	}
	hosts := cfg.ProviderHosts
	if len(hosts) == 0 {
		hosts = DefaultProviderHosts
	}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(strings.TrimPrefix(h, "https://"), "http://")
		if h == "" {
			continue
		}
		host, prefix, _ := strings.Cut(h, "/")
		e.providerPatterns = append(e.providerPatterns, providerPattern{
			host:       strings.TrimPrefix(host, "www."),
			pathPrefix: "/" + prefix,
		})
	}
	return e
}

// Derive returns the QR image for a payment. Records are searched in order
// (payment record first, then booking) for an embedded image, then the
// payment URL's query parameters and the URL itself, and finally a QR
// encoding the payment URL is synthesized. Nil records are skipped.
func (e *Engine) Derive(paymentURL string, records ...map[string]any) Result {
	for _, rec := range records {
		if res, ok := e.embedded(rec); ok {
			return res
		}
	}
	paymentURL = strings.TrimSpace(paymentURL)
	if paymentURL == "" {
		return Result{}
	}
	if res, ok := e.fromURL(paymentURL); ok {
		return res
	}
	return e.synthesize(paymentURL)
}

// embedded walks the record, its parsed meta payload and meta.data. A meta
// sent as a JSON string is only reachable through the parsed copy.
func (e *Engine) embedded(rec map[string]any) (Result, bool) {
	for _, src := range payment.Sources(rec) {
		var res Result
		_, ok := graph.FindString(src, func(n graph.Node, s string) bool {
			if !pathHasQRKey(n.Path) {
				return false
			}
			img, source, ok := e.accept(s, true)
			if ok {
				res = Result{Image: img, Source: source}
			}
			return ok
		})
		if ok {
			return res, true
		}
	}
	return Result{}, false
}

func (e *Engine) fromURL(paymentURL string) (Result, bool) {
	u, err := url.Parse(paymentURL)
	if err != nil {
		return Result{}, false
	}
	query := u.Query()
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range query[name] {
			if img, _, ok := e.accept(value, isQRKey(name)); ok {
				return Result{Image: img, Source: SourceQueryParam}, true
			}
		}
	}
	if e.isProviderImage(u) {
		return Result{Image: paymentURL, Source: SourceProviderURL}, true
	}
	return Result{}, false
}

func (e *Engine) synthesize(paymentURL string) Result {
	if e.mode == ModeLocal {
		if img, ok := e.render(paymentURL); ok {
			return Result{Image: img, Source: SourceLocal}
		}
	}
	return Result{Image: e.remote(paymentURL), Source: SourceSynthesized}
}

// encode turns arbitrary text into a QR image using the configured mode.
func (e *Engine) encode(content string) string {
	if e.mode == ModeLocal {
		if img, ok := e.render(content); ok {
			return img
		}
	}
	return e.remote(content)
}

func (e *Engine) remote(content string) string {
	return e.endpoint + url.QueryEscape(content)
}
