// Package httpclient is the transport of the data layer.
//
// Every request goes through a fixed pipeline that adds the session id,
// the JSON accept header and a bearer token. Concurrent GET requests for
// the same key share one network call. Responses the server marks as
// refreshable are re-requested in the background with the refresh header set.
//
// Refresh chains are not bounded by default: a refreshed response that is
// again marked refreshable triggers another refresh. The server is trusted
// to eventually omit the header; set Config.MaxRefreshDepth to cap the chain.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	// Source of bearer tokens. No authorization header is sent if nil.
	Tokens TokenSource
	// HTTP client used for requests. http.DefaultClient is used if nil.
	HTTPClient *http.Client
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Metrics receiver. Events are dropped if nil.
	Metrics Metrics
	// Maximum number of chained refreshes per request. Zero means unbounded.
	MaxRefreshDepth int
}

type Client struct {
	tokens          TokenSource
	httpClient      *http.Client
	log             zerolog.Logger
	metrics         Metrics
	maxRefreshDepth int
	sessionId       string

	// pending GET requests, keyed by dedup key
	inflight singleflight.Group

	// background refreshes
	refreshes sync.WaitGroup
	mutex     sync.Mutex
	closed    bool
}

// New creates a client with a new session id.
func New(config Config) *Client {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	sessionId := newSessionId()
	c := &Client{
		tokens:          config.Tokens,
		httpClient:      config.HTTPClient,
		metrics:         config.Metrics,
		maxRefreshDepth: config.MaxRefreshDepth,
		sessionId:       sessionId,
		log:             logger.With().Str("session", sessionId).Logger(),
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}
	return c
}

func newSessionId() string {
	if id, err := uuid.NewUUID(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

// SessionID returns the id sent with every request of this client.
func (c *Client) SessionID() string {
	return c.sessionId
}

// Close stops starting new background refreshes and waits for running ones.
func (c *Client) Close() {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
	c.refreshes.Wait()
}

// Get fetches url and decodes the JSON response into T.
// Calls for the same dedup key (by default the URL) made while a request is
// in flight share that request and receive the same *Response.
// Cancelling ctx stops waiting but not the shared request.
func Get[T any](ctx context.Context, c *Client, url string, opts ...Option) (*Response[T], error) {
	o := buildOptions(opts)
	key := o.DedupKey
	if key == "" {
		key = url
	}
	init := newRequestInit(http.MethodGet, o.Header, nil)

	flight := c.inflight.DoChan(key, func() (any, error) {
		return c.perform(context.WithoutCancel(ctx), url, init, 0)
	})
	select {
	case <-ctx.Done():
		return nil, &ClientError{Method: http.MethodGet, URL: url, Err: ctx.Err()}
	case result := <-flight:
		if result.Shared {
			c.metrics.RequestShared()
			c.log.Trace().Str("key", key).Msg("Shared in-flight request")
		}
		if result.Err != nil {
			return nil, result.Err
		}
		return typedResponse[T](result.Val.(*exchange))
	}
}

// Post sends body as JSON and decodes the JSON response into T.
// Post requests are never shared.
func Post[T any](ctx context.Context, c *Client, url string, body any, opts ...Option) (*Response[T], error) {
	return send[T](ctx, c, http.MethodPost, url, body, opts)
}

// Put sends body as JSON and decodes the JSON response into T.
// Put requests are never shared.
func Put[T any](ctx context.Context, c *Client, url string, body any, opts ...Option) (*Response[T], error) {
	return send[T](ctx, c, http.MethodPut, url, body, opts)
}

func send[T any](ctx context.Context, c *Client, method, url string, body any, opts []Option) (*Response[T], error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, normalize(method, url, fmt.Errorf("encode request body: %w", err))
	}
	o := buildOptions(opts)
	init := newRequestInit(method, o.Header, payload).
		withHeader("Content-Type", "application/json")
	ex, err := c.perform(ctx, url, init, 0)
	if err != nil {
		return nil, err
	}
	return typedResponse[T](ex)
}

// perform runs the pipeline and the round trip.
// Errors are normalized before they are returned.
func (c *Client) perform(ctx context.Context, url string, init requestInit, depth int) (ex *exchange, err error) {
	start := time.Now()
	outcome := OutcomeError
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while performing request: %v", r)
		}
		err = normalize(init.method, url, err)
		if err != nil {
			c.log.Warn().Err(err).Str("method", init.method).Str("url", url).Msg("Request failed")
		}
		c.metrics.RequestCompleted(init.method, outcome, time.Since(start))
	}()

	options, err := c.transformRequest(ctx, url, init)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if len(options.body) > 0 {
		body = bytes.NewReader(options.body)
	}
	req, err := http.NewRequestWithContext(ctx, options.method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = options.header
	c.log.Trace().Str("method", options.method).Str("url", url).Int("depth", depth).Msg("Executing request")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		errorBody, err := parseErrorBody(url, res, resBody)
		if err != nil {
			return nil, err
		}
		outcome = OutcomeFailed
		return nil, &RequestFailedError{URL: url, Status: res.StatusCode, Body: errorBody}
	}

	outcome = OutcomeOK
	ex = &exchange{
		method: options.method,
		url:    url,
		status: res.StatusCode,
		header: res.Header,
		body:   resBody,
	}
	refreshable := isRefreshable(res.Header)
	if refreshable && (c.maxRefreshDepth == 0 || depth < c.maxRefreshDepth) {
		ex.refresh = c.startRefresh(ctx, url, init, depth+1)
	}

	c.log.Debug().
		Str("method", options.method).
		Str("url", url).
		Int("status", res.StatusCode).
		Bool("refreshable", refreshable).
		Dur("duration", time.Since(start)).
		Msg("Request completed")
	return ex, nil
}

// startRefresh re-issues the request with the refresh header set,
// without blocking the caller. It returns nil once the client is closed.
func (c *Client) startRefresh(ctx context.Context, url string, init requestInit, depth int) *future {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return nil
	}
	f := &future{
		method: init.method,
		url:    url,
		done:   make(chan struct{}),
	}
	c.refreshes.Add(1)
	c.metrics.RefreshIssued()
	c.log.Trace().Str("url", url).Int("depth", depth).Msg("Starting background refresh")
	go func() {
		defer c.refreshes.Done()
		defer close(f.done)
		f.ex, f.err = c.perform(context.WithoutCancel(ctx), url, addRefreshHeader(init), depth)
	}()
	return f
}
