// Package cache holds the last observed price per instrument. The map is
// sharded so the dispatch loop's writes do not contend with API reads.
package cache

import (
	"sync"
	"time"
)

const numShards = 16

// PriceCache is a sharded last-price cache keyed by instrument token.
type PriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[uint32]priceEntry
}

type priceEntry struct {
	price     float64
	updatedAt time.Time
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	c := &PriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[uint32]priceEntry),
		}
	}
	return c
}

func (c *PriceCache) getShard(token uint32) *priceShard {
	return c.shards[token%numShards]
}

// Set stores the latest price for an instrument.
func (c *PriceCache) Set(token uint32, price float64) {
	shard := c.getShard(token)
	shard.mu.Lock()
	shard.items[token] = priceEntry{
		price:     price,
		updatedAt: time.Now(),
	}
	shard.mu.Unlock()
}

// Get retrieves the last price for an instrument.
func (c *PriceCache) Get(token uint32) (float64, bool) {
	shard := c.getShard(token)
	shard.mu.RLock()
	entry, ok := shard.items[token]
	shard.mu.RUnlock()
	return entry.price, ok
}

// GetWithAge retrieves the last price and how stale it is.
func (c *PriceCache) GetWithAge(token uint32) (float64, time.Duration, bool) {
	shard := c.getShard(token)
	shard.mu.RLock()
	entry, ok := shard.items[token]
	shard.mu.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return entry.price, time.Since(entry.updatedAt), true
}

// Delete removes an instrument from the cache.
func (c *PriceCache) Delete(token uint32) {
	shard := c.getShard(token)
	shard.mu.Lock()
	delete(shard.items, token)
	shard.mu.Unlock()
}

// Len returns total items across all shards.
func (c *PriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// PruneExcept removes entries whose token is not in keep, returning the
// number removed. Used to drop prices for instruments that no longer
// have active triggers.
func (c *PriceCache) PruneExcept(keep []uint32) int {
	valid := make(map[uint32]bool, len(keep))
	for _, t := range keep {
		valid[t] = true
	}

	removed := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		for token := range shard.items {
			if !valid[token] {
				delete(shard.items, token)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Snapshot returns a copy of all cached prices.
func (c *PriceCache) Snapshot() map[uint32]float64 {
	result := make(map[uint32]float64)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for token, entry := range shard.items {
			result[token] = entry.price
		}
		shard.mu.RUnlock()
	}
	return result
}
