package httpclient

import (
	"context"
	"net/http"
)

const (
	SessionIdHeader = "X-Session-Id"
	RefreshHeader   = "X-Pp-Refresh"
)

// RequestOptions are the caller-supplied parts of a request.
type RequestOptions struct {
	// Header is added to the outgoing request.
	// Headers set by the client (session, accept, authorization) take precedence.
	Header http.Header
	// DedupKey identifies equal GET requests. The URL is used if empty.
	DedupKey string
}

type Option func(*RequestOptions)

// WithHeader adds a request header.
func WithHeader(name, value string) Option {
	return func(o *RequestOptions) {
		if o.Header == nil {
			o.Header = make(http.Header)
		}
		o.Header.Add(name, value)
	}
}

// WithDedupKey sets the key under which concurrent GET requests are shared.
func WithDedupKey(key string) Option {
	return func(o *RequestOptions) {
		o.DedupKey = key
	}
}

func buildOptions(opts []Option) RequestOptions {
	o := RequestOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// requestInit is the value flowing through the request pipeline.
// Pipeline steps never mutate it; they return a modified copy.
type requestInit struct {
	method string
	header http.Header
	body   []byte
}

func newRequestInit(method string, header http.Header, body []byte) requestInit {
	return requestInit{method: method, header: header.Clone(), body: body}
}

// withHeader returns a copy of the init with the header set.
func (r requestInit) withHeader(name, value string) requestInit {
	header := r.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(name, value)
	r.header = header
	return r
}

// transform is one step of the request pipeline.
type transform func(ctx context.Context, url string, init requestInit) (requestInit, error)

// pipeline returns the request transforms in the order they are applied.
func (c *Client) pipeline() []transform {
	return []transform{
		c.addSessionIdHeader,
		addAcceptJsonHeader,
		c.addAuthHeader,
	}
}

func (c *Client) transformRequest(ctx context.Context, url string, init requestInit) (requestInit, error) {
	var err error
	for _, step := range c.pipeline() {
		if init, err = step(ctx, url, init); err != nil {
			return init, err
		}
	}
	return init, nil
}

func (c *Client) addSessionIdHeader(ctx context.Context, url string, init requestInit) (requestInit, error) {
	return init.withHeader(SessionIdHeader, c.sessionId), nil
}

func addAcceptJsonHeader(ctx context.Context, url string, init requestInit) (requestInit, error) {
	return init.withHeader("Accept", "application/json"), nil
}

func (c *Client) addAuthHeader(ctx context.Context, url string, init requestInit) (requestInit, error) {
	if c.tokens == nil {
		c.log.Trace().Str("url", url).Msg("No token source, skipping authorization header")
		return init, nil
	}
	token, err := c.tokens.AcquireToken(ctx, url)
	if err != nil {
		return init, err
	}
	return init.withHeader("Authorization", "Bearer "+token), nil
}

// addRefreshHeader marks a request as the re-issue of a refreshable response.
func addRefreshHeader(init requestInit) requestInit {
	return init.withHeader(RefreshHeader, "application/json")
}
