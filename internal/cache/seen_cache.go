// Package cache provides an in-memory cache of recently ingested
// article numbers, keyed per group. Overlapping XOVER chunks (retries,
// re-planned ranges) skip articles the cache remembers instead of
// re-running the decode and store path for them.
package cache

import (
	"fmt"
	"log"
	"sync"
	"time"
)

const cleanupTick = 5 * time.Minute

type seenEntry struct {
	numbers  map[int64]struct{}
	lastUsed time.Time
}

// SeenCache remembers which article numbers of a group were already
// ingested. Entries expire after maxAge; correctness never depends on
// the cache, the store's insert-or-ignore semantics stay authoritative.
type SeenCache struct {
	mutex       sync.RWMutex
	groups      map[string]*seenEntry
	maxPerGroup int
	maxAge      time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once

	countermux sync.RWMutex
	hits       int64
	misses     int64
}

// NewSeenCache creates a seen-article cache. maxPerGroup bounds the
// remembered numbers per group; a group exceeding it is reset rather
// than partially evicted, the store catches the re-offered rows.
func NewSeenCache(maxPerGroup int, maxAge time.Duration) *SeenCache {
	sc := &SeenCache{
		groups:      make(map[string]*seenEntry),
		maxPerGroup: maxPerGroup,
		maxAge:      maxAge,
		stopCleanup: make(chan struct{}),
	}
	go sc.cleanup()
	return sc
}

// Seen reports whether an article number of a group was ingested
// recently.
func (sc *SeenCache) Seen(group string, number int64) bool {
	sc.mutex.RLock()
	entry, exists := sc.groups[group]
	seen := false
	if exists {
		_, seen = entry.numbers[number]
	}
	sc.mutex.RUnlock()

	sc.countermux.Lock()
	if seen {
		sc.hits++
	} else {
		sc.misses++
	}
	sc.countermux.Unlock()

	if seen {
		sc.mutex.Lock()
		if entry, ok := sc.groups[group]; ok {
			entry.lastUsed = time.Now()
		}
		sc.mutex.Unlock()
	}
	return seen
}

// MarkSeen records article numbers after a successful ingest.
func (sc *SeenCache) MarkSeen(group string, numbers []int64) {
	if len(numbers) == 0 {
		return
	}
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	entry, exists := sc.groups[group]
	if !exists {
		entry = &seenEntry{numbers: make(map[int64]struct{}, len(numbers))}
		sc.groups[group] = entry
	}
	if len(entry.numbers)+len(numbers) > sc.maxPerGroup {
		// over budget: reset the group instead of tracking an eviction order
		entry.numbers = make(map[int64]struct{}, len(numbers))
	}
	for _, n := range numbers {
		entry.numbers[n] = struct{}{}
	}
	entry.lastUsed = time.Now()
}

// Forget drops a group's entry, e.g. after it vanished from the server.
func (sc *SeenCache) Forget(group string) {
	sc.mutex.Lock()
	delete(sc.groups, group)
	sc.mutex.Unlock()
}

// GetStats returns cache statistics.
func (sc *SeenCache) GetStats() map[string]interface{} {
	sc.mutex.RLock()
	groupCount := len(sc.groups)
	numberCount := 0
	for _, entry := range sc.groups {
		numberCount += len(entry.numbers)
	}
	sc.mutex.RUnlock()

	sc.countermux.RLock()
	hits := sc.hits
	misses := sc.misses
	sc.countermux.RUnlock()

	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}

	return map[string]interface{}{
		"groups":   groupCount,
		"numbers":  numberCount,
		"max_age":  sc.maxAge.String(),
		"hits":     hits,
		"misses":   misses,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	}
}

// cleanup runs periodically to remove idle groups.
func (sc *SeenCache) cleanup() {
	ticker := time.NewTicker(cleanupTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.cleanupExpired()
		case <-sc.stopCleanup:
			return
		}
	}
}

func (sc *SeenCache) cleanupExpired() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	now := time.Now()
	expired := 0
	for group, entry := range sc.groups {
		if now.Sub(entry.lastUsed) > sc.maxAge {
			delete(sc.groups, group)
			expired++
		}
	}
	if expired > 0 {
		log.Printf("[SEEN-CACHE] expired %d idle groups", expired)
	}
}

// Stop shuts down the cleanup goroutine.
func (sc *SeenCache) Stop() {
	sc.stopOnce.Do(func() {
		close(sc.stopCleanup)
	})
}
