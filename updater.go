package fusionclient

import (
	"context"
	"time"
)

// updateResources runs a loop reloading stale resources until the client
// is closed. Every interval, each resource that was loaded through Load,
// is not being fetched and has stale or unknown freshness is reloaded.
func (c *Client) updateResources() {
	defer close(c.stopped)
	c.log.Info().Msgf("Starting resource update loop with interval %s", c.updateInterval)
	for {
		select {
		case <-c.stop:
			c.log.Trace().Msg("Stopping resource update loop")
			return
		case <-time.After(c.updateInterval):
		}
		c.updateStale(time.Now())
	}
}

// updateStale reloads the resources that are stale at now, one at a time.
func (c *Client) updateStale(now time.Time) {
	ctx := context.Background()
	for _, key := range c.cache.Keys() {
		select {
		case <-c.stop:
			return
		default:
		}
		reload := c.loader(key)
		if reload == nil {
			continue
		}
		resource, err := c.cache.Get(ctx, key)
		if err != nil || resource.IsFetching || !resource.CacheStatus.IsStale(now) {
			continue
		}
		c.log.Trace().Str("key", key).Msg("Updating stale resource")
		if err := reload(ctx); err != nil {
			c.log.Error().Err(err).Str("key", key).Msg("Could not update resource")
		}
	}
}
