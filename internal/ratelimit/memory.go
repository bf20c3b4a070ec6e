package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const shardCount = 32

// idleFactor: entries untouched for idleFactor windows are swept.
const idleFactor = 5

type entry struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	lastSeen    time.Time
	dead        bool
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// MemoryLimiter is a process-local fixed-window limiter. The shard lock is
// held only to find or insert an entry; counting happens under the entry's
// own lock so unrelated keys never contend.
type MemoryLimiter struct {
	window time.Duration
	shards [shardCount]shard
	now    func() time.Time
}

// NewMemoryLimiter creates a limiter with the given window (DefaultWindow
// when zero).
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &MemoryLimiter{window: window, now: time.Now}
	for i := range l.shards {
		l.shards[i].entries = make(map[string]*entry)
	}
	return l
}

// SetClock overrides the time source. Tests only.
func (l *MemoryLimiter) SetClock(now func() time.Time) { l.now = now }

// Window returns the configured window.
func (l *MemoryLimiter) Window() time.Duration { return l.window }

func (l *MemoryLimiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLimiter) entryFor(key string) *entry {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// Check counts one request for key. The first request opens a window with
// count 1; later requests are allowed while count < maxRequests.
func (l *MemoryLimiter) Check(_ context.Context, key string, maxRequests int) (Result, error) {
	for {
		e := l.entryFor(key)
		e.mu.Lock()
		if e.dead {
			// Swept between lookup and lock; retry on a fresh entry.
			e.mu.Unlock()
			continue
		}
		res := l.count(e, maxRequests)
		e.mu.Unlock()
		return res, nil
	}
}

func (l *MemoryLimiter) count(e *entry, maxRequests int) Result {
	now := l.now()
	e.lastSeen = now
	if e.windowStart.IsZero() || now.Sub(e.windowStart) >= l.window {
		e.windowStart = now
		e.count = 1
		return Result{
			Allowed:   maxRequests > 0,
			Limit:     maxRequests,
			Remaining: max(maxRequests-1, 0),
			ResetIn:   l.window,
		}
	}

	resetIn := clampReset(l.window-now.Sub(e.windowStart), l.window)
	if e.count < maxRequests {
		e.count++
		return Result{Allowed: true, Limit: maxRequests, Remaining: maxRequests - e.count, ResetIn: resetIn}
	}
	return Result{Allowed: false, Limit: maxRequests, Remaining: 0, ResetIn: resetIn}
}

// Sweep removes entries idle for more than five windows and returns how
// many were removed.
func (l *MemoryLimiter) Sweep() int {
	cutoff := l.now().Add(-idleFactor * l.window)
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			e.mu.Lock()
			if e.lastSeen.Before(cutoff) {
				e.dead = true
				delete(s.entries, k)
				removed++
			}
			e.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps once per window until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Rate limiter swept idle keys")
			}
		}
	}
}
