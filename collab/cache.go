package collab

import (
	"context"
	"sync"
	"time"

	"codocs/core"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// entry is one cached document. content is the single source of truth while
// the entry lives; lastPersisted is the snapshot at the last successful
// durable write, so dirtiness is content != lastPersisted with no extra flag.
type entry struct {
	mu            sync.Mutex
	content       string
	lastPersisted string
	// persisted records that lastPersisted reflects a real durable state
	// (a load or a completed flush). An entry created by an edit before any
	// load has no baseline and is dirty whatever its content, including "".
	persisted    bool
	lastEditedAt time.Time
}

func (e *entry) dirty() bool {
	return !e.persisted || e.content != e.lastPersisted
}

// Cache is the authoritative in-memory store of current document content.
// The map lock only guards lookup, insert and removal; each entry carries its
// own mutex so operations on different documents never contend.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store core.DocumentStore
	group singleflight.Group

	// onDirty is invoked after every Update so the persistence scheduler can
	// debounce a durable flush. Set once during wiring, before any traffic.
	onDirty func(docID string)
}

func NewCache(store core.DocumentStore) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		store:   store,
	}
}

// OnDirty registers the scheduler callback fired after each Update.
func (c *Cache) OnDirty(fn func(docID string)) {
	c.onDirty = fn
}

func (c *Cache) lookup(docID string) *entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[docID]
}

// Get returns the cached content, or ok=false on a miss.
func (c *Cache) Get(docID string) (string, bool) {
	e := c.lookup(docID)
	if e == nil {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content, true
}

// Load returns the cached content, falling back to a durable read on a miss
// and seeding the cache with the result. Concurrent loads for the same
// document share a single in-flight durable read.
func (c *Cache) Load(ctx context.Context, docID string) (string, error) {
	if content, ok := c.Get(docID); ok {
		return content, nil
	}

	v, err, _ := c.group.Do(docID, func() (any, error) {
		// A racing load may have seeded the entry already.
		if content, ok := c.Get(docID); ok {
			return content, nil
		}

		doc, err := c.store.FindID(ctx, docID)
		if err != nil {
			return "", err
		}
		c.Seed(docID, doc.Content)
		return doc.Content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Seed installs a clean entry holding content freshly read from the durable
// store. An existing entry is left untouched: cached state is newer than
// anything the store can return.
func (c *Cache) Seed(docID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[docID]; ok {
		return
	}
	c.entries[docID] = &entry{
		content:       content,
		lastPersisted: content,
		persisted:     true,
		lastEditedAt:  time.Now(),
	}
}

// Update replaces the cached content (last-writer-wins, no merge) and marks
// the entry freshly edited. The entry is created if absent; the access gate
// has already proven the document exists by then.
func (c *Cache) Update(docID, content string) {
	c.mu.Lock()
	e, ok := c.entries[docID]
	if !ok {
		e = &entry{}
		c.entries[docID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	e.content = content
	e.lastEditedAt = time.Now()
	e.mu.Unlock()

	if c.onDirty != nil {
		c.onDirty(docID)
	}
}

// MarkPersisted records that persistedContent reached durable storage. If the
// content moved on in the meantime the entry simply stays dirty.
func (c *Cache) MarkPersisted(docID, persistedContent string) {
	e := c.lookup(docID)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.lastPersisted = persistedContent
	e.persisted = true
	e.mu.Unlock()
}

// Snapshot atomically reads the current content and dirtiness of an entry.
// Flushes persist exactly this value, never a stale captured one.
func (c *Cache) Snapshot(docID string) (content string, dirty bool, ok bool) {
	e := c.lookup(docID)
	if e == nil {
		return "", false, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content, e.dirty(), true
}

// Dirty reports whether the entry holds unflushed changes.
func (c *Cache) Dirty(docID string) bool {
	_, dirty, ok := c.Snapshot(docID)
	return ok && dirty
}

// EvictIfIdle removes the entry iff it has been idle beyond the threshold,
// is clean, and no connections are joined to its room. Dirty entries are
// never evicted, however idle.
func (c *Cache) EvictIfIdle(docID string, idleThreshold time.Duration, roomMembers int) bool {
	if roomMembers > 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[docID]
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dirty() || time.Since(e.lastEditedAt) <= idleThreshold {
		return false
	}

	delete(c.entries, docID)
	logrus.WithField("document_id", docID).Debug("Evicted idle document from cache")
	return true
}

// IDs returns the ids of all cached documents.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
