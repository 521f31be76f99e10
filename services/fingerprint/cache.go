// Copyright (C) 2025 Parity QA (maintainers@parityqa.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fingerprint

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache fronts a Store with request coalescing: concurrent lookups for
// the same key share one computation, and a cache backend failure
// degrades to a miss rather than failing the caller.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cache struct {
	store  Store
	group  singleflight.Group
	logger *slog.Logger
}

// NewCache wraps store. A nil logger falls back to slog.Default().
func NewCache(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger}
}

type cacheResult struct {
	value []byte
	hit   bool
}

// GetOrCompute returns the cached value for key, or runs compute exactly
// once across concurrent callers, stores its result with the namespace
// TTL, and returns it. The second return reports whether the value came
// from the cache.
//
// Store errors on either read or write are logged at warn and treated as
// a miss; compute errors are returned as-is and never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		value, found, err := c.store.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache read failed, treating as miss",
				"key", key, "error", err)
		} else if found {
			return cacheResult{value: value, hit: true}, nil
		}

		value, err = compute(ctx)
		if err != nil {
			return nil, err
		}

		if putErr := c.store.Put(ctx, key, value, ttlForKey(key)); putErr != nil {
			c.logger.Warn("cache write failed, result not cached",
				"key", key, "error", putErr)
		}
		return cacheResult{value: value}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(cacheResult)
	return res.value, res.hit, nil
}

// Get does a plain lookup without computing. Backend errors degrade to
// a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed, treating as miss",
			"key", key, "error", err)
		return nil, false
	}
	return value, found
}

// Put writes through to the store with the namespace TTL. Errors are
// logged and swallowed; a failed write only costs a future recompute.
func (c *Cache) Put(ctx context.Context, key string, value []byte) {
	if err := c.store.Put(ctx, key, value, ttlForKey(key)); err != nil {
		c.logger.Warn("cache write failed, result not cached",
			"key", key, "error", err)
	}
}

// ttlForKey maps a namespaced key to its namespace TTL.
func ttlForKey(key string) time.Duration {
	if strings.HasPrefix(key, NamespaceLLM) {
		return TTLLLM
	}
	return TTLAnalysis
}
