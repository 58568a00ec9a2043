package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisProvider stores a namespace as a single Redis hash.
type RedisProvider struct {
	r      redis.Cmdable
	hash   string
	client *redis.Client // closed with the provider, if opened by it

	// orders writes with mirror reloads
	writeMutex sync.Mutex
	mirror     *mirror
}

// OpenRedisProvider connects to the Redis server described by options.
// The connection is closed when the provider is closed.
func OpenRedisProvider(ctx context.Context, options *redis.Options, namespace string) (*RedisProvider, error) {
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	p, err := NewRedisProvider(ctx, client, namespace)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.client = client
	return p, nil
}

// NewRedisProvider uses the hash named by namespace on the given client
// and loads it into the in-memory mirror. Closing the provider leaves r open.
func NewRedisProvider(ctx context.Context, r redis.Cmdable, namespace string) (*RedisProvider, error) {
	p := &RedisProvider{
		r:      r,
		hash:   namespace,
		mirror: newMirror(),
	}
	if _, err := p.ToObjectAsync(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RedisProvider) GetItem(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := p.r.HGet(ctx, p.hash, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *RedisProvider) SetItem(ctx context.Context, key string, value []byte) error {
	return p.SetItems(ctx, map[string][]byte{key: value})
}

// SetItems writes all fields with a single HSET, which Redis applies atomically.
func (p *RedisProvider) SetItems(ctx context.Context, items map[string][]byte) error {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	if len(items) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(items)*2)
	for key, value := range items {
		values = append(values, key, value)
	}
	if err := p.r.HSet(ctx, p.hash, values...).Err(); err != nil {
		return err
	}
	p.mirror.set(copyItems(items))
	return nil
}

func (p *RedisProvider) RemoveItem(ctx context.Context, key string) error {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	if err := p.r.HDel(ctx, p.hash, key).Err(); err != nil {
		return err
	}
	p.mirror.remove(key)
	return nil
}

func (p *RedisProvider) Clear(ctx context.Context) error {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	if err := p.r.Del(ctx, p.hash).Err(); err != nil {
		return err
	}
	p.mirror.replace(make(map[string][]byte))
	return nil
}

func (p *RedisProvider) ToObject() map[string][]byte {
	return p.mirror.snapshot()
}

func (p *RedisProvider) ToObjectAsync(ctx context.Context) (map[string][]byte, error) {
	p.writeMutex.Lock()
	defer p.writeMutex.Unlock()
	fields, err := p.r.HGetAll(ctx, p.hash).Result()
	if err != nil {
		return nil, err
	}
	items := make(map[string][]byte, len(fields))
	for key, value := range fields {
		items[key] = []byte(value)
	}
	p.mirror.replace(copyItems(items))
	return items, nil
}

// Close closes the connection if the provider opened it.
func (p *RedisProvider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
