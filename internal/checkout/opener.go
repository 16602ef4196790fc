package checkout

import (
	"context"

	"github.com/rs/zerolog"
)

// Opener hands a payment URL to whatever performs the external redirect.
type Opener interface {
	OpenExternal(ctx context.Context, url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) error

// OpenExternal implements Opener.
func (f OpenerFunc) OpenExternal(ctx context.Context, url string) error { return f(ctx, url) }

// LogOpener records redirects. The browser performs the navigation itself
// from the URL returned by the redirect endpoint.
type LogOpener struct {
	Logger zerolog.Logger
}

// OpenExternal implements Opener.
func (o LogOpener) OpenExternal(ctx context.Context, url string) error {
	o.Logger.Info().Str("component", "opener").Str("url", url).Msg("external redirect")
	return nil
}
