package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-process AttemptLog backed by a mutex-guarded map.
//
// Expired attempts are filtered on read, not evicted: a key's slice only
// grows until process restart. That is acceptable for the attempt volumes a
// single instance sees inside one window; multi-instance deployments should
// use RedisLog instead, which expires keys server-side.
type MemoryLog struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewMemoryLog creates an empty in-process attempt log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{attempts: make(map[string][]time.Time)}
}

func (l *MemoryLog) RecordAttempt(_ context.Context, key string, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[key] = append(l.attempts[key], t)
	return nil
}

func (l *MemoryLog) CountSince(_ context.Context, key string, since time.Time) (int, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var count int
	var oldest time.Time
	for _, t := range l.attempts[key] {
		if !t.After(since) {
			continue
		}
		if count == 0 || t.Before(oldest) {
			oldest = t
		}
		count++
	}
	return count, oldest, nil
}
