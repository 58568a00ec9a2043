package httpclient

import "context"

// TokenSource acquires a bearer token for the given request URL.
type TokenSource interface {
	AcquireToken(ctx context.Context, url string) (string, error)
}

// TokenSourceFunc adapts a function to a TokenSource.
type TokenSourceFunc func(ctx context.Context, url string) (string, error)

func (f TokenSourceFunc) AcquireToken(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// StaticToken returns the same token for every URL.
type StaticToken string

func (s StaticToken) AcquireToken(ctx context.Context, url string) (string, error) {
	return string(s), nil
}
