// Package fusionclient ties the transport and the resource cache together:
// resources are loaded by key, served from the cache while fresh, and kept
// up to date by following refreshable responses.
package fusionclient

import (
	"context"
	"sync"
	"time"

	"github.com/always-cache/fusion-client/httpclient"
	"github.com/always-cache/fusion-client/resourcecache"

	"github.com/rs/zerolog"
)

type Config struct {
	// Transport configuration.
	// The client logger is used if Transport.Logger is nil.
	Transport httpclient.Config
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Interval at which stale resources are reloaded in the background.
	// Background updates are disabled if zero.
	UpdateInterval time.Duration
}

type Client struct {
	transport      *httpclient.Client
	cache          *resourcecache.Cache
	log            zerolog.Logger
	updateInterval time.Duration

	mutex sync.Mutex
	// reload functions of loaded resources, by resource key
	loaders map[string]func(context.Context) error
	// refresh chain currently followed, by resource key
	following map[string]any
	followers sync.WaitGroup

	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// CreateClient creates the transport and the resource cache,
// and starts the background updater if configured.
func CreateClient(config Config) *Client {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	transportConfig := config.Transport
	if transportConfig.Logger == nil {
		transportConfig.Logger = &logger
	}

	c := &Client{
		transport:      httpclient.New(transportConfig),
		cache:          resourcecache.New(resourcecache.Config{Logger: &logger}),
		updateInterval: config.UpdateInterval,
		loaders:        make(map[string]func(context.Context) error),
		following:      make(map[string]any),
		stop:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	c.log = logger.With().Str("session", c.transport.SessionID()).Logger()

	if c.updateInterval > 0 {
		go c.updateResources()
	} else {
		close(c.stopped)
	}
	return c
}

func (c *Client) Transport() *httpclient.Client {
	return c.transport
}

func (c *Client) Cache() *resourcecache.Cache {
	return c.cache
}

// Close stops the background updater and waits for background refreshes.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.stopped
		c.transport.Close()
		c.followers.Wait()
		c.log.Debug().Msg("Client closed")
	})
}

type loadOptions struct {
	force   bool
	request []httpclient.Option
}

type LoadOption func(*loadOptions)

// Force fetches the resource even if the cached data is fresh.
func Force() LoadOption {
	return func(o *loadOptions) {
		o.force = true
	}
}

// WithRequestOptions passes options to the transport.
func WithRequestOptions(opts ...httpclient.Option) LoadOption {
	return func(o *loadOptions) {
		o.request = append(o.request, opts...)
	}
}

// Load returns the resource stored under key, fetching it from url
// if it is absent or stale. Fetched data is decoded into T.
// If the response is refreshable, the refreshed responses are written
// to the cache in the background as they arrive.
// A failed fetch leaves the cached data untouched.
func Load[T any](ctx context.Context, c *Client, key, url string, opts ...LoadOption) (resourcecache.CachedResource, error) {
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	reloadOpts := append([]LoadOption{Force()}, opts...)
	c.remember(key, func(ctx context.Context) error {
		_, err := Load[T](ctx, c, key, url, reloadOpts...)
		return err
	})

	resource, err := c.cache.Get(ctx, key)
	if err != nil {
		return resource, err
	}
	if !o.force && resource.Data != nil && !resource.CacheStatus.IsStale(time.Now()) {
		c.log.Trace().Str("key", key).Msg("Serving fresh resource from cache")
		return resource, nil
	}

	if err := c.cache.SetFetching(ctx, key); err != nil {
		return resource, err
	}

	// the fetch and the cache writes outlive a cancelled caller
	done := make(chan loadResult, 1)
	c.followers.Add(1)
	go func() {
		defer c.followers.Done()
		resource, err := fetch[T](context.WithoutCancel(ctx), c, key, url, o.request)
		done <- loadResult{resource, err}
	}()
	select {
	case <-ctx.Done():
		c.log.Trace().Str("key", key).Msg("Caller stopped waiting for load")
		return resource, ctx.Err()
	case result := <-done:
		return result.resource, result.err
	}
}

type loadResult struct {
	resource resourcecache.CachedResource
	err      error
}

// fetch requests the resource and stores the response.
// The fetching flag is cleared if the request fails.
func fetch[T any](ctx context.Context, c *Client, key, url string, opts []httpclient.Option) (resourcecache.CachedResource, error) {
	res, err := httpclient.Get[T](ctx, c.transport, url, opts...)
	if err != nil {
		if resetErr := c.cache.ResetFetching(ctx, key); resetErr != nil {
			c.log.Error().Err(resetErr).Str("key", key).Msg("Could not reset fetching state")
		}
		resource, _ := c.cache.Get(ctx, key)
		return resource, err
	}
	if err := c.cache.Update(ctx, key, res); err != nil {
		return resourcecache.CachedResource{ResourceKey: key}, err
	}
	resource, err := c.cache.Get(ctx, key)
	if err != nil {
		return resource, err
	}
	if res.Refresh != nil {
		followRefresh(c, key, res.Refresh)
	} else {
		c.unfollow(key, nil)
	}
	return resource, nil
}

func (c *Client) remember(key string, reload func(context.Context) error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.loaders[key] = reload
}

func (c *Client) loader(key string) func(context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.loaders[key]
}

// followRefresh writes every response of a refresh chain to the cache.
// Callers sharing a response share its refresh, which is followed once.
// A chain stops when a newer load of the same key replaces it.
func followRefresh[T any](c *Client, key string, refresh *httpclient.Refresh[T]) {
	c.mutex.Lock()
	if c.following[key] == any(refresh) {
		c.mutex.Unlock()
		return
	}
	c.following[key] = refresh
	c.followers.Add(1)
	c.mutex.Unlock()

	go func() {
		defer c.followers.Done()
		ctx := context.Background()
		current := refresh
		defer func() { c.unfollow(key, current) }()
		for {
			res, err := current.Wait(ctx)
			if err != nil {
				c.log.Warn().Err(err).Str("key", key).Msg("Background refresh failed")
				return
			}
			if !c.isFollowing(key, current) {
				c.log.Trace().Str("key", key).Msg("Refresh superseded by a newer load")
				return
			}
			if err := c.cache.Update(ctx, key, res); err != nil {
				c.log.Error().Err(err).Str("key", key).Msg("Could not store refreshed resource")
				return
			}
			c.log.Trace().Str("key", key).Msg("Stored refreshed resource")
			if res.Refresh == nil {
				return
			}
			c.replaceFollowing(key, current, res.Refresh)
			current = res.Refresh
		}
	}()
}

func (c *Client) isFollowing(key string, refresh any) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.following[key] == refresh
}

func (c *Client) replaceFollowing(key string, old, next any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.following[key] == old {
		c.following[key] = next
	}
}

// unfollow stops following refresh for key, or any refresh if it is nil.
func (c *Client) unfollow(key string, refresh any) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if refresh == nil || c.following[key] == refresh {
		delete(c.following, key)
	}
}
