package collab

import (
	"context"
	"sync"
	"time"

	"codocs/core"

	"github.com/sirupsen/logrus"
)

// RoomCounter reports how many connections are currently joined to a
// document's room. The eviction sweep consults it so live rooms are never
// evicted out from under their members.
type RoomCounter func(docID string) int

// SchedulerConfig carries the persistence timing policy. Zero values fall
// back to the defaults below.
type SchedulerConfig struct {
	// QuietPeriod is how long a document must go without edits before its
	// dirty content is flushed.
	QuietPeriod time.Duration
	// MaxWindow bounds staleness: a flush fires at most this long after the
	// first edit of a burst, even if edits keep arriving.
	MaxWindow time.Duration
	// IdleThreshold is how long an entry must be idle before the sweep may
	// evict it.
	IdleThreshold time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
	// FlushTimeout caps a single durable write.
	FlushTimeout time.Duration
}

func (c *SchedulerConfig) applyDefaults() {
	if c.QuietPeriod <= 0 {
		c.QuietPeriod = time.Second
	}
	if c.MaxWindow <= 0 {
		c.MaxWindow = 5 * time.Second
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 10 * time.Second
	}
}

type flushState int

const (
	stateIdle flushState = iota
	statePending
	stateFlushing
)

// docFlush is the per-document flush state machine {Idle, Pending, Flushing}.
type docFlush struct {
	state    flushState
	timer    *time.Timer
	deadline time.Time // max coalescing window for the current burst
	rerun    bool      // an update arrived while a flush was in flight
}

// Scheduler coalesces bursts of edits into infrequent durable writes and
// periodically evicts idle clean cache entries. Only one flush is ever in
// flight per document; a failed write leaves the entry dirty and is retried
// on the next trigger or the next sweep.
type Scheduler struct {
	mu   sync.Mutex
	docs map[string]*docFlush

	cache *Cache
	store core.DocumentStore
	cfg   SchedulerConfig
	rooms RoomCounter

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewScheduler(cache *Cache, store core.DocumentStore, cfg SchedulerConfig, rooms RoomCounter) *Scheduler {
	cfg.applyDefaults()
	if rooms == nil {
		rooms = func(string) int { return 0 }
	}
	s := &Scheduler{
		docs:  make(map[string]*docFlush),
		cache: cache,
		store: store,
		cfg:   cfg,
		rooms: rooms,
		done:  make(chan struct{}),
	}
	cache.OnDirty(s.RequestFlush)
	return s
}

// Start launches the eviction sweep loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
}

// Close stops the sweep loop, cancels pending timers and synchronously
// flushes every dirty entry.
func (s *Scheduler) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		for id, f := range s.docs {
			if f.timer != nil {
				f.timer.Stop()
			}
			delete(s.docs, id)
		}
		s.mu.Unlock()

		s.FlushAll()
	})
}

// RequestFlush notes that a document became dirty and (re)arms its debounce
// timer. Called by the cache on every update.
func (s *Scheduler) RequestFlush(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestLocked(docID)
}

func (s *Scheduler) requestLocked(docID string) {
	f, ok := s.docs[docID]
	if !ok {
		f = &docFlush{}
		s.docs[docID] = f
	}

	switch f.state {
	case stateIdle:
		f.state = statePending
		f.deadline = time.Now().Add(s.cfg.MaxWindow)
		f.timer = time.AfterFunc(s.cfg.QuietPeriod, func() { s.fire(docID) })
	case statePending:
		// Restart the quiet-period timer, but never past the burst deadline.
		delay := s.cfg.QuietPeriod
		if remaining := time.Until(f.deadline); remaining < delay {
			delay = remaining
			if delay < 0 {
				delay = 0
			}
		}
		f.timer.Stop()
		f.timer = time.AfterFunc(delay, func() { s.fire(docID) })
	case stateFlushing:
		f.rerun = true
	}
}

func (s *Scheduler) fire(docID string) {
	s.mu.Lock()
	f, ok := s.docs[docID]
	if !ok || f.state != statePending {
		s.mu.Unlock()
		return
	}
	f.state = stateFlushing
	s.mu.Unlock()

	s.flush(docID)
}

// flush re-reads content atomically from the cache and writes it durably.
// The value persisted is the cache content at flush time, never a captured
// copy from when the flush was scheduled.
func (s *Scheduler) flush(docID string) {
	content, dirty, ok := s.cache.Snapshot(docID)
	if ok && dirty {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		_, err := s.store.UpdateContent(ctx, docID, content)
		cancel()

		if err != nil {
			logrus.WithFields(logrus.Fields{
				"document_id": docID,
				"error":       err,
			}).Warn("Durable flush failed, entry stays dirty for retry")
		} else {
			s.cache.MarkPersisted(docID, content)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.docs[docID]
	if !ok {
		return
	}
	f.state = stateIdle
	if f.rerun {
		f.rerun = false
		s.requestLocked(docID)
	} else if !s.cache.Dirty(docID) {
		delete(s.docs, docID)
	}
}

// FlushAll synchronously persists every dirty entry. Used on shutdown.
func (s *Scheduler) FlushAll() {
	for _, id := range s.cache.IDs() {
		content, dirty, ok := s.cache.Snapshot(id)
		if !ok || !dirty {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
		_, err := s.store.UpdateContent(ctx, id, content)
		cancel()

		if err != nil {
			logrus.WithFields(logrus.Fields{
				"document_id": id,
				"error":       err,
			}).Error("Final flush failed")
			continue
		}
		s.cache.MarkPersisted(id, content)
	}
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.done:
			return
		}
	}
}

// Sweep walks the cache once: dirty entries whose flush machinery is idle get
// a retry, clean idle entries with empty rooms are evicted.
func (s *Scheduler) Sweep() {
	for _, id := range s.cache.IDs() {
		if s.cache.Dirty(id) {
			s.retryIfIdle(id)
			continue
		}
		if s.cache.EvictIfIdle(id, s.cfg.IdleThreshold, s.rooms(id)) {
			s.forget(id)
		}
	}
}

// retryIfIdle re-requests a flush only when no timer is armed and no flush is
// in flight, so the sweep never postpones an already pending quiet period.
func (s *Scheduler) retryIfIdle(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.docs[docID]; ok && f.state != stateIdle {
		return
	}
	s.requestLocked(docID)
}

func (s *Scheduler) forget(docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.docs[docID]; ok {
		if f.timer != nil {
			f.timer.Stop()
		}
		delete(s.docs, docID)
	}
}
