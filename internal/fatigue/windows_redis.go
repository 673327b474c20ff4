package fatigue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key patterns for the rolling window counters.
const (
	keyDailyWindow  = "fatigue:%s:daily:%s"  // subscriber_id, day bucket
	keyWeeklyWindow = "fatigue:%s:weekly:%s" // subscriber_id, week bucket
)

// Bucketed keys expire shortly after their window closes, so expired
// windows read as zero without any reset task.
const (
	dailyWindowTTL  = 25 * time.Hour
	weeklyWindowTTL = 8 * 24 * time.Hour
)

// Lua script so both counters move in one round trip and the TTL is set
// exactly once per bucket.
const incrWindowsLuaScript = `
local daily = redis.call("INCR", KEYS[1])
if daily == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
local weekly = redis.call("INCR", KEYS[2])
if weekly == 1 then
    redis.call("EXPIRE", KEYS[2], ARGV[2])
end
return {daily, weekly}
`

// RedisWindows is a WindowStore backed by Redis, for deployments where more
// than one process must agree on a subscriber's counters.
type RedisWindows struct {
	client     *redis.Client
	incrScript *redis.Script
}

// NewRedisWindows creates a Redis-backed window store.
func NewRedisWindows(client *redis.Client) *RedisWindows {
	return &RedisWindows{
		client:     client,
		incrScript: redis.NewScript(incrWindowsLuaScript),
	}
}

func (rw *RedisWindows) keys(subscriberID string, now time.Time) (string, string) {
	dayKey := fmt.Sprintf(keyDailyWindow, subscriberID, dayBucket(now))
	weekKey := fmt.Sprintf(keyWeeklyWindow, subscriberID, weekBucket(now))
	return dayKey, weekKey
}

// Incr atomically increments both window counters for one send.
func (rw *RedisWindows) Incr(ctx context.Context, subscriberID string, now time.Time) (int, int, error) {
	dayKey, weekKey := rw.keys(subscriberID, now)

	result, err := rw.incrScript.Run(ctx, rw.client,
		[]string{dayKey, weekKey},
		int(dailyWindowTTL.Seconds()),
		int(weeklyWindowTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("increment fatigue windows: %w", err)
	}
	if len(result) != 2 {
		return 0, 0, fmt.Errorf("increment fatigue windows: unexpected result %v", result)
	}
	return int(result[0]), int(result[1]), nil
}

// Counts reads the current window counters without mutating them.
func (rw *RedisWindows) Counts(ctx context.Context, subscriberID string, now time.Time) (int, int, error) {
	dayKey, weekKey := rw.keys(subscriberID, now)

	pipe := rw.client.Pipeline()
	dailyCmd := pipe.Get(ctx, dayKey)
	weeklyCmd := pipe.Get(ctx, weekKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("read fatigue windows: %w", err)
	}

	daily, _ := dailyCmd.Int64()
	weekly, _ := weeklyCmd.Int64()
	return int(daily), int(weekly), nil
}
