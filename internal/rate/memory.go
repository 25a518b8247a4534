package rate

import (
	"context"
	"hash/maphash"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const memoryShardCount = 64

// MemoryStore is a process-local Store. Subjects are spread over shards whose
// locks guard only map membership; each subject log has its own mutex so
// checks on distinct subjects never contend.
type MemoryStore struct {
	seed   maphash.Seed
	shards [memoryShardCount]memoryShard

	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

type memoryShard struct {
	mu      sync.Mutex
	entries map[string]*subjectLog
}

type subjectLog struct {
	mu        sync.Mutex
	marks     []int64
	expiresAt int64
	dead      bool
}

// NewMemoryStore returns a MemoryStore. A positive sweepInterval starts a
// janitor goroutine that drops idle subjects; Close stops it.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		seed: maphash.MakeSeed(),
		done: make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*subjectLog)
	}

	if sweepInterval > 0 {
		s.wg.Add(1)
		go s.janitor(sweepInterval)
	}
	return s
}

// Check runs one sliding-window step for subject under its own lock.
func (s *MemoryStore) Check(ctx context.Context, subject string, limit int, window time.Duration, now time.Time) (Decision, error) {
	if err := validate(limit, window); err != nil {
		return Decision{}, err
	}
	if s.closed.Load() {
		return Decision{}, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	for {
		entry := s.entry(subject)
		entry.mu.Lock()
		if entry.dead {
			// Reclaimed between lookup and lock; the replacement lives in the shard.
			entry.mu.Unlock()
			continue
		}
		d := entry.step(limit, window.Milliseconds(), now.UnixMilli())
		entry.mu.Unlock()
		return d, nil
	}
}

// Sweep drops every subject whose log expired at or before now and returns
// how many were dropped.
func (s *MemoryStore) Sweep(now time.Time) int {
	nowMs := now.UnixMilli()
	dropped := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for subject, entry := range shard.entries {
			entry.mu.Lock()
			if entry.expiresAt <= nowMs {
				entry.dead = true
				delete(shard.entries, subject)
				dropped++
			}
			entry.mu.Unlock()
		}
		shard.mu.Unlock()
	}
	return dropped
}

// Close stops the janitor. Checks after Close fail with ErrStoreClosed.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
	})
}

func (s *MemoryStore) janitor(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.Sweep(now)
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) entry(subject string) *subjectLog {
	shard := &s.shards[maphash.String(s.seed, subject)%memoryShardCount]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[subject]
	if !ok {
		entry = &subjectLog{}
		shard.entries[subject] = entry
	}
	return entry
}

// step assumes l.mu is held.
func (l *subjectLog) step(limit int, windowMs, nowMs int64) Decision {
	cutoff := nowMs - windowMs
	live := sort.Search(len(l.marks), func(i int) bool { return l.marks[i] > cutoff })
	if live > 0 {
		l.marks = append(l.marks[:0], l.marks[live:]...)
	}

	if exp := nowMs + windowMs; exp > l.expiresAt {
		l.expiresAt = exp
	}

	count := len(l.marks)
	if count >= limit {
		reset := nowMs + windowMs
		if count > 0 {
			reset = l.marks[0] + windowMs
		}
		return Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetAt:   time.UnixMilli(reset),
		}
	}

	at := sort.Search(len(l.marks), func(i int) bool { return l.marks[i] > nowMs })
	l.marks = append(l.marks, 0)
	copy(l.marks[at+1:], l.marks[at:])
	l.marks[at] = nowMs

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - count - 1,
		ResetAt:   time.UnixMilli(nowMs + windowMs),
	}
}
