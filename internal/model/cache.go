package model

import (
	"container/list"
	"io"
	"log"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/Brownie44l1/anime-style-api/internal/pipeline"
)

// CacheStats holds engine cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Loads     int64 `json:"loads"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

type cacheEntry struct {
	name    string
	engine  pipeline.Engine
	refs    int
	evicted bool
	elem    *list.Element
}

// engineCache is an LRU of loaded engines keyed by model name. Entries are
// reference counted: an evicted engine is closed once its last user releases it.
type engineCache struct {
	mu      sync.Mutex
	size    int
	entries map[string]*cacheEntry
	lru     *list.List
	group   singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	loads     atomic.Int64
	evictions atomic.Int64
}

func newEngineCache(size int) *engineCache {
	return &engineCache{
		size:    size,
		entries: make(map[string]*cacheEntry),
		lru:     list.New(),
	}
}

// acquire returns the cached engine for name, loading it with load on a miss.
// Concurrent misses for the same name share one load.
func (c *engineCache) acquire(name string, load func() (pipeline.Engine, error)) (pipeline.Engine, func(), error) {
	if e := c.get(name); e != nil {
		c.hits.Inc()
		return e.engine, c.releaser(e), nil
	}
	c.misses.Inc()

	for {
		_, err, _ := c.group.Do(name, func() (interface{}, error) {
			c.mu.Lock()
			_, ok := c.entries[name]
			c.mu.Unlock()
			if ok {
				return nil, nil
			}

			eng, err := load()
			if err != nil {
				return nil, err
			}
			c.loads.Inc()
			c.insert(name, eng)
			return nil, nil
		})
		if err != nil {
			return nil, nil, err
		}

		if e := c.get(name); e != nil {
			return e.engine, c.releaser(e), nil
		}
		// Evicted before we could pin it; load again.
	}
}

func (c *engineCache) get(name string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[name]
	if !ok {
		return nil
	}
	e.refs++
	c.lru.MoveToFront(e.elem)
	return e
}

func (c *engineCache) insert(name string, eng pipeline.Engine) {
	var closing []*cacheEntry

	c.mu.Lock()
	e := &cacheEntry{name: name, engine: eng}
	e.elem = c.lru.PushFront(e)
	c.entries[name] = e
	for c.lru.Len() > c.size {
		back := c.lru.Back()
		victim := back.Value.(*cacheEntry)
		c.lru.Remove(back)
		delete(c.entries, victim.name)
		victim.evicted = true
		c.evictions.Inc()
		log.Printf("Evicting model %s from engine cache (in use: %d)", victim.name, victim.refs)
		if victim.refs == 0 {
			closing = append(closing, victim)
		}
	}
	c.mu.Unlock()

	for _, victim := range closing {
		closeEngine(victim.name, victim.engine)
	}
}

func (c *engineCache) releaser(e *cacheEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			e.refs--
			closeNow := e.evicted && e.refs == 0
			c.mu.Unlock()

			if closeNow {
				closeEngine(e.name, e.engine)
			}
		})
	}
}

func (c *engineCache) stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()

	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Loads:     c.loads.Load(),
		Evictions: c.evictions.Load(),
		Entries:   n,
	}
}

// close evicts every entry; engines still in use close on their last release.
func (c *engineCache) close() {
	var closing []*cacheEntry

	c.mu.Lock()
	for name, e := range c.entries {
		e.evicted = true
		if e.refs == 0 {
			closing = append(closing, e)
		}
		delete(c.entries, name)
	}
	c.lru.Init()
	c.mu.Unlock()

	for _, e := range closing {
		closeEngine(e.name, e.engine)
	}
}

func closeEngine(name string, eng pipeline.Engine) {
	closer, ok := eng.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		log.Printf("Failed to close engine for %s: %v", name, err)
	}
}
