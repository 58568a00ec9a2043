// Package dictionary implements a durable key-value dictionary on top of a
// pluggable storage provider. Every successful mutation emits a change event
// carrying a fresh snapshot of the whole dictionary.
package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/always-cache/fusion-client/pkg/emitter"
	"github.com/always-cache/fusion-client/storage"

	"github.com/rs/zerolog"
)

var (
	// ErrUnknownKey is returned when a key is not part of the dictionary schema.
	ErrUnknownKey = errors.New("unknown dictionary key")
	// ErrUnsupportedSchema is returned by New for schema types that are neither
	// structs nor string-keyed maps.
	ErrUnsupportedSchema = errors.New("dictionary schema must be a struct or a map with string keys")
	// ErrNotEmitted is returned when a mutation was stored but the snapshot
	// for its change event could not be read. No change is emitted.
	ErrNotEmitted = errors.New("dictionary written but change not emitted")
)

// Open is the schema for dictionaries without a fixed key set.
type Open = map[string]json.RawMessage

// Dictionary is a durable dictionary whose snapshot has the shape S.
// If S is a struct, the key set is closed and given by the struct's json tags.
// If S is a map, any key is accepted.
type Dictionary[S any] struct {
	provider storage.Provider
	keys     map[string]struct{}
	changes  emitter.Emitter[S]
	log      zerolog.Logger
}

type options struct {
	logger *zerolog.Logger
}

type Option func(*options)

// WithLogger sets the logger. A console logger is used if not set.
func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a dictionary backed by provider.
func New[S any](provider storage.Provider, opts ...Option) (*Dictionary[S], error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	keys, err := schemaKeys(reflect.TypeOf((*S)(nil)).Elem())
	if err != nil {
		return nil, err
	}
	var logger zerolog.Logger
	if o.logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *o.logger
	}
	return &Dictionary[S]{
		provider: provider,
		keys:     keys,
		log:      logger.With().Str("component", "dictionary").Logger(),
	}, nil
}

// schemaKeys returns the closed key set of a struct schema, or nil for maps.
func schemaKeys(t reflect.Type) (map[string]struct{}, error) {
	switch {
	case t.Kind() == reflect.Map && t.Key().Kind() == reflect.String:
		return nil, nil
	case t.Kind() != reflect.Struct:
		return nil, ErrUnsupportedSchema
	}
	keys := make(map[string]struct{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = field.Name
		}
		keys[name] = struct{}{}
	}
	return keys, nil
}

func (d *Dictionary[S]) checkKey(key string) error {
	if d.keys == nil {
		return nil
	}
	if _, ok := d.keys[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// Get reads key through the provider and decodes it into v.
// It returns false if the key is absent, leaving v untouched.
func (d *Dictionary[S]) Get(ctx context.Context, key string, v any) (bool, error) {
	if err := d.checkKey(key); err != nil {
		return false, err
	}
	raw, ok, err := d.provider.GetItem(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode dictionary key %q: %w", key, err)
	}
	return true, nil
}

// Set writes value under key and emits a change.
// Nothing is emitted if the write fails. If the write succeeds but the
// change cannot be emitted, the error wraps ErrNotEmitted.
func (d *Dictionary[S]) Set(ctx context.Context, key string, value any) error {
	return d.SetMany(ctx, map[string]any{key: value})
}

// SetMany writes all values in a single provider write and emits one change.
func (d *Dictionary[S]) SetMany(ctx context.Context, values map[string]any) error {
	items := make(map[string][]byte, len(values))
	for key, value := range values {
		if err := d.checkKey(key); err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode dictionary key %q: %w", key, err)
		}
		items[key] = raw
	}
	if err := d.provider.SetItems(ctx, items); err != nil {
		return err
	}
	d.log.Trace().Int("keys", len(items)).Msg("Dictionary write")
	return d.emitChanges(ctx)
}

// Remove deletes key and emits a change.
func (d *Dictionary[S]) Remove(ctx context.Context, key string) error {
	if err := d.checkKey(key); err != nil {
		return err
	}
	if err := d.provider.RemoveItem(ctx, key); err != nil {
		return err
	}
	d.log.Trace().Str("key", key).Msg("Dictionary remove")
	return d.emitChanges(ctx)
}

// Clear deletes every key and emits a change.
func (d *Dictionary[S]) Clear(ctx context.Context) error {
	if err := d.provider.Clear(ctx); err != nil {
		return err
	}
	d.log.Trace().Msg("Dictionary clear")
	return d.emitChanges(ctx)
}

// ToObjectSnapshot reads the whole dictionary from the provider.
func (d *Dictionary[S]) ToObjectSnapshot(ctx context.Context) (S, error) {
	items, err := d.provider.ToObjectAsync(ctx)
	if err != nil {
		var zero S
		return zero, err
	}
	return decode[S](items)
}

// ToObjectSnapshotSync returns the dictionary as seen by the provider's
// in-memory mirror. Entries that cannot be decoded are logged and skipped.
func (d *Dictionary[S]) ToObjectSnapshotSync() S {
	snapshot, err := decode[S](d.provider.ToObject())
	if err != nil {
		d.log.Warn().Err(err).Msg("Could not decode dictionary mirror")
	}
	return snapshot
}

// OnChange registers handler for change events.
func (d *Dictionary[S]) OnChange(handler func(S)) (unsubscribe func()) {
	return d.changes.Subscribe(handler)
}

func (d *Dictionary[S]) emitChanges(ctx context.Context) error {
	snapshot, err := d.ToObjectSnapshot(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("Could not read dictionary after write")
		return fmt.Errorf("%w: %w", ErrNotEmitted, err)
	}
	d.changes.Emit(snapshot)
	return nil
}

// decode turns the raw provider items into the schema type.
func decode[S any](items map[string][]byte) (S, error) {
	var snapshot S
	object := make(map[string]json.RawMessage, len(items))
	for key, value := range items {
		if !json.Valid(value) {
			continue
		}
		object[key] = value
	}
	raw, err := json.Marshal(object)
	if err != nil {
		return snapshot, err
	}
	err = json.Unmarshal(raw, &snapshot)
	return snapshot, err
}
