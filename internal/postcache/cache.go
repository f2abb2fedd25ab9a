package postcache

import (
	"fmt"
	"sync"

	"github.com/blackmichael/splatshare/internal/domain"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is large enough that a long session never evicts a post
// that is still on screen.
const DefaultCapacity = 2048

// Cache is the process-wide map of post snapshots shared by every screen. It
// is bounded by least-recently-used eviction, and subscribers are told about
// each write so views can refresh.
type Cache struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, domain.Post]

	subMu     sync.RWMutex
	nextID    int
	subs      map[int]func(domain.Post)
	purgeSubs map[int]func()
}

// New creates a cache holding at most capacity posts.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", capacity)
	}
	lru, err := simplelru.NewLRU[string, domain.Post](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{
		lru:       lru,
		subs:      make(map[int]func(domain.Post)),
		purgeSubs: make(map[int]func()),
	}, nil
}

// Get returns the snapshot for id and marks it recently used.
func (c *Cache) Get(id string) (domain.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(id)
}

// Set overwrites the snapshot for id.
func (c *Cache) Set(id string, post domain.Post) {
	c.mu.Lock()
	c.lru.Add(id, post)
	c.mu.Unlock()

	c.publish(post)
}

// Update shallow-merges patch into the entry for id. Without an entry, a new
// one is created only if the patch identifies the same post.
func (c *Cache) Update(id string, patch domain.PostPatch) {
	c.mu.Lock()
	current, ok := c.lru.Get(id)
	if !ok {
		if patch.ID == "" || patch.ID != id {
			c.mu.Unlock()
			return
		}
		current = domain.Post{ID: id}
	}
	updated := patch.Apply(current)
	c.lru.Add(id, updated)
	c.mu.Unlock()

	c.publish(updated)
}

// Len returns the number of cached posts.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry, then runs the OnPurge callbacks so views holding
// snapshots can discard them.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()

	c.subMu.RLock()
	fns := make([]func(), 0, len(c.purgeSubs))
	for _, fn := range c.purgeSubs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Subscribe registers fn to receive every post written to the cache. fn runs
// on the writer's goroutine after the write is visible and must not block.
// The returned function removes the subscription.
func (c *Cache) Subscribe(fn func(domain.Post)) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return c.unsubscriber(func() { delete(c.subs, id) })
}

// OnPurge registers fn to run after every Purge. Like Subscribe, fn must not
// block.
func (c *Cache) OnPurge(fn func()) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.purgeSubs[id] = fn
	c.subMu.Unlock()

	return c.unsubscriber(func() { delete(c.purgeSubs, id) })
}

func (c *Cache) unsubscriber(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			remove()
			c.subMu.Unlock()
		})
	}
}

func (c *Cache) publish(post domain.Post) {
	c.subMu.RLock()
	fns := make([]func(domain.Post), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(post)
	}
}
