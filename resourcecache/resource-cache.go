// Package resourcecache keeps the last known state of fetched resources,
// keyed by resource key, and emits an update for every change.
package resourcecache

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/always-cache/fusion-client/pkg/emitter"

	"github.com/rs/zerolog"
)

// CachedResource is the state of one resource.
// Values are never modified after they are stored or emitted.
type CachedResource struct {
	ResourceKey string      `json:"resourceKey"`
	Data        any         `json:"data"`
	IsFetching  bool        `json:"isFetching"`
	CacheStatus CacheStatus `json:"cacheStatus"`
}

// Fetched is a successful response that can be written to the cache.
type Fetched interface {
	Payload() any
	Headers() http.Header
}

// Data returns the resource data as T.
// It returns false if there is no data or it is of another type.
func Data[T any](resource CachedResource) (T, bool) {
	data, ok := resource.Data.(T)
	return data, ok
}

type Config struct {
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Cache struct {
	// held across a write and its emission, so updates are emitted in store order
	emitMutex sync.Mutex
	mutex     sync.RWMutex
	resources map[string]CachedResource
	updates   emitter.Emitter[CachedResource]
	log       zerolog.Logger
}

func New(config Config) *Cache {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	return &Cache{
		resources: make(map[string]CachedResource),
		log:       logger.With().Str("component", "resourcecache").Logger(),
	}
}

// Get returns the current state of the resource.
// The first access creates an empty entry and emits it.
func (c *Cache) Get(ctx context.Context, key string) (CachedResource, error) {
	c.mutex.RLock()
	resource, ok := c.resources[key]
	c.mutex.RUnlock()
	if ok {
		return resource, nil
	}

	c.emitMutex.Lock()
	defer c.emitMutex.Unlock()
	c.mutex.Lock()
	resource, ok = c.resources[key]
	if !ok {
		resource = CachedResource{ResourceKey: key}
		c.resources[key] = resource
	}
	c.mutex.Unlock()

	if !ok {
		c.log.Trace().Str("key", key).Msg("Created resource entry")
		c.updates.Emit(resource)
	}
	return resource, nil
}

// SetFetching marks the resource as being fetched, keeping its data.
func (c *Cache) SetFetching(ctx context.Context, key string) error {
	c.set(key, func(resource CachedResource) CachedResource {
		resource.IsFetching = true
		return resource
	})
	return nil
}

// ResetFetching clears the fetching flag after a failed fetch, keeping the data.
func (c *Cache) ResetFetching(ctx context.Context, key string) error {
	c.set(key, func(resource CachedResource) CachedResource {
		resource.IsFetching = false
		return resource
	})
	return nil
}

// Update stores the data of a fetched response and the freshness metadata
// found in its headers, and clears the fetching flag.
func (c *Cache) Update(ctx context.Context, key string, response Fetched) error {
	data := response.Payload()
	status := parseCacheStatus(response.Headers())
	resource := c.set(key, func(resource CachedResource) CachedResource {
		resource.Data = data
		resource.IsFetching = false
		resource.CacheStatus = status
		return resource
	})
	c.log.Debug().
		Str("key", key).
		Interface("cacheStatus", resource.CacheStatus).
		Msg("Updated resource")
	return nil
}

// set replaces the entry with the result of modify and emits it.
// A missing entry is created first.
func (c *Cache) set(key string, modify func(CachedResource) CachedResource) CachedResource {
	c.emitMutex.Lock()
	defer c.emitMutex.Unlock()
	c.mutex.Lock()
	resource, ok := c.resources[key]
	if !ok {
		resource = CachedResource{ResourceKey: key}
	}
	resource = modify(resource)
	c.resources[key] = resource
	c.mutex.Unlock()

	c.updates.Emit(resource)
	return resource
}

// Keys returns the keys of all known resources, sorted.
func (c *Cache) Keys() []string {
	c.mutex.RLock()
	keys := make([]string, 0, len(c.resources))
	for key := range c.resources {
		keys = append(keys, key)
	}
	c.mutex.RUnlock()
	sort.Strings(keys)
	return keys
}

// OnUpdate calls handler with every changed resource.
// Updates are delivered in the order they were stored, one at a time.
// Handlers may read existing entries but must not write to the cache.
func (c *Cache) OnUpdate(handler func(CachedResource)) (unsubscribe func()) {
	return c.updates.Subscribe(handler)
}

// OnKeyUpdate calls handler with every change of the resource with the given key.
func (c *Cache) OnKeyUpdate(key string, handler func(CachedResource)) (unsubscribe func()) {
	return c.updates.Subscribe(func(resource CachedResource) {
		if resource.ResourceKey == key {
			handler(resource)
		}
	})
}
