package fatigue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// dayBucket and weekBucket key the rolling windows. A counter whose bucket
// no longer matches the current clock belongs to an expired window and reads
// as zero.
func dayBucket(t time.Time) string {
	return t.Format("2006-01-02")
}

func weekBucket(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// WindowStore maintains the rolling daily and weekly send counters for each
// subscriber. Incr accounts exactly one send and returns the updated counts
// for the windows containing now; Counts reads without mutating.
type WindowStore interface {
	Incr(ctx context.Context, subscriberID string, now time.Time) (daily, weekly int, err error)
	Counts(ctx context.Context, subscriberID string, now time.Time) (daily, weekly int, err error)
}

type windowCounters struct {
	daily      int
	weekly     int
	dayBucket  string
	weekBucket string
}

func (c *windowCounters) roll(now time.Time) {
	if db := dayBucket(now); c.dayBucket != db {
		c.daily = 0
		c.dayBucket = db
	}
	if wb := weekBucket(now); c.weekBucket != wb {
		c.weekly = 0
		c.weekBucket = wb
	}
}

// memoryWindows is the single-process default WindowStore.
type memoryWindows struct {
	mu       sync.Mutex
	counters map[string]*windowCounters
}

func newMemoryWindows() *memoryWindows {
	return &memoryWindows{counters: make(map[string]*windowCounters)}
}

func (m *memoryWindows) Incr(_ context.Context, subscriberID string, now time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[subscriberID]
	if !ok {
		c = &windowCounters{}
		m.counters[subscriberID] = c
	}
	c.roll(now)
	c.daily++
	c.weekly++
	return c.daily, c.weekly, nil
}

func (m *memoryWindows) Counts(_ context.Context, subscriberID string, now time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[subscriberID]
	if !ok {
		return 0, 0, nil
	}
	c.roll(now)
	return c.daily, c.weekly, nil
}
