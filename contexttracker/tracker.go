// Package contexttracker keeps track of the active context of the session
// and the one active before it, persisted in a durable dictionary.
package contexttracker

import (
	"context"
	"errors"
	"sync"

	"github.com/always-cache/fusion-client/dictionary"
	"github.com/always-cache/fusion-client/storage"

	"github.com/rs/zerolog"
)

// StorageNamespace is the storage namespace providers should be opened with.
const StorageNamespace = "FUSION_CURRENT_CONTEXT"

// Cache is the persisted state of the tracker.
type Cache struct {
	Current  *Context `json:"current"`
	Previous *Context `json:"previous"`
}

type Config struct {
	// Storage for the current and previous context.
	Provider storage.Provider
	// Remote lookup of contexts and their relations.
	Service ContextService
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Tracker struct {
	store   *dictionary.Dictionary[Cache]
	service ContextService
	log     zerolog.Logger
}

func New(config Config) (*Tracker, error) {
	if config.Provider == nil || config.Service == nil {
		return nil, errors.New("context tracker needs a storage provider and a context service")
	}
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "contexttracker").Logger()

	store, err := dictionary.New[Cache](config.Provider, dictionary.WithLogger(&logger))
	if err != nil {
		return nil, err
	}
	return &Tracker{
		store:   store,
		service: config.Service,
		log:     logger,
	}, nil
}

// SetCurrentContext makes c the current context and moves the replaced
// current context to previous. Both keys are written in one batch.
// The replaced context is resolved through the context service; if that
// fails, the persisted value is used instead.
func (t *Tracker) SetCurrentContext(ctx context.Context, c Context) error {
	previous, err := t.GetCurrentContextResolved(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("Could not resolve current context, keeping persisted value as previous")
		snapshot, err := t.store.ToObjectSnapshot(ctx)
		if err != nil {
			return err
		}
		previous = snapshot.Current
	}

	err = t.store.SetMany(ctx, map[string]any{
		"current":  &c,
		"previous": previous,
	})
	if err != nil {
		return err
	}
	t.log.Debug().Str("context", c.ID).Str("type", string(c.Type)).Msg("Current context set")
	return nil
}

// GetCurrentContext returns the current context from the in-memory mirror,
// or nil if there is none.
func (t *Tracker) GetCurrentContext() *Context {
	return t.store.ToObjectSnapshotSync().Current
}

// GetPreviousContext returns the previous context from the in-memory mirror,
// or nil if there is none.
func (t *Tracker) GetPreviousContext() *Context {
	return t.store.ToObjectSnapshotSync().Previous
}

// GetCurrentContextResolved reads the current context from storage and
// fetches its full record from the context service.
// It returns nil if there is no current context.
func (t *Tracker) GetCurrentContextResolved(ctx context.Context) (*Context, error) {
	snapshot, err := t.store.ToObjectSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snapshot.Current == nil {
		return nil, nil
	}
	return t.service.GetContext(ctx, snapshot.Current.ID)
}

// ExchangeContext returns the contexts of requiredType related to c.
// Failures are logged and give an empty result.
func (t *Tracker) ExchangeContext(ctx context.Context, c Context, requiredType ContextType) []Context {
	related, err := t.service.GetRelatedContexts(ctx, c.ID, requiredType)
	if err != nil {
		t.log.Warn().Err(err).Str("context", c.ID).Str("type", string(requiredType)).Msg("Context exchange failed")
		return []Context{}
	}
	if related == nil {
		return []Context{}
	}
	return related
}

// ExchangeCurrentContext exchanges the resolved current context.
// It returns an empty result if there is no current context.
func (t *Tracker) ExchangeCurrentContext(ctx context.Context, requiredType ContextType) ([]Context, error) {
	current, err := t.GetCurrentContextResolved(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return []Context{}, nil
	}
	return t.ExchangeContext(ctx, *current, requiredType), nil
}

// OnChange calls handler with the persisted state after every write.
func (t *Tracker) OnChange(handler func(Cache)) (unsubscribe func()) {
	return t.store.OnChange(handler)
}

// OnCurrentContextChange calls handler when the id of the current context
// changes. Writes that keep the same current context are not reported.
func (t *Tracker) OnCurrentContextChange(handler func(*Context)) (unsubscribe func()) {
	var mutex sync.Mutex
	last := contextID(t.GetCurrentContext())
	return t.store.OnChange(func(cache Cache) {
		id := contextID(cache.Current)
		mutex.Lock()
		changed := id != last
		last = id
		mutex.Unlock()
		if changed {
			handler(cache.Current)
		}
	})
}

func contextID(c *Context) string {
	if c == nil {
		return ""
	}
	return c.ID
}
