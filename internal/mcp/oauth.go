package mcp

import (
	"context"

	"golang.org/x/oauth2"
)

// AuthProvider is the minimal surface the MCP client needs from an OAuth
// client library: a way to mint a redirect URL and a way to exchange a
// callback for a token. It is intentionally narrow so the state machine
// never depends on oauth2-specific types beyond the redirect URL string.
type AuthProvider interface {
	// RedirectToAuthorization returns the URL the caller should be sent to
	// in order to authorize the connection.
	RedirectToAuthorization(ctx context.Context) (string, error)

	// ExchangeCallback completes the flow given the callback parameters and
	// returns a token usable by the transport.
	ExchangeCallback(ctx context.Context, code, state string) (*oauth2.Token, error)
}

// oauthInterceptor wraps an AuthProvider so every RedirectToAuthorization
// call first pushes the URL into the owning client's state machine as
// oauthRequired{url}, per §4.1's OAuth interception design and §9's note to
// avoid bespoke provider subclasses: every operation is forwarded except the
// redirect callback, which is intercepted.
type oauthInterceptor struct {
	inner  AuthProvider
	notify func(url string)
}

func wrapAuthProvider(inner AuthProvider, notify func(url string)) AuthProvider {
	if inner == nil {
		return nil
	}
	return &oauthInterceptor{inner: inner, notify: notify}
}

func (w *oauthInterceptor) RedirectToAuthorization(ctx context.Context) (string, error) {
	url, err := w.inner.RedirectToAuthorization(ctx)
	if err != nil {
		return "", err
	}
	w.notify(url)
	return url, nil
}

func (w *oauthInterceptor) ExchangeCallback(ctx context.Context, code, state string) (*oauth2.Token, error) {
	return w.inner.ExchangeCallback(ctx, code, state)
}
