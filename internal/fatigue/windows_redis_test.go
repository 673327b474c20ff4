package fatigue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisWindowsIncrAndCounts(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	rw := NewRedisWindows(client)
	now := testStart

	for i := 1; i <= 3; i++ {
		daily, weekly, err := rw.Incr(ctx, "sub-1", now)
		require.NoError(t, err)
		assert.Equal(t, i, daily)
		assert.Equal(t, i, weekly)
	}

	daily, weekly, err := rw.Counts(ctx, "sub-1", now)
	require.NoError(t, err)
	assert.Equal(t, 3, daily)
	assert.Equal(t, 3, weekly)

	// Unknown subscriber reads as zero.
	daily, weekly, err = rw.Counts(ctx, "sub-2", now)
	require.NoError(t, err)
	assert.Equal(t, 0, daily)
	assert.Equal(t, 0, weekly)
}

func TestRedisWindowsBucketRollover(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	rw := NewRedisWindows(client)
	now := testStart

	_, _, err := rw.Incr(ctx, "sub-1", now)
	require.NoError(t, err)
	_, _, err = rw.Incr(ctx, "sub-1", now)
	require.NoError(t, err)

	// Next day, same ISO week: fresh daily key, weekly carries.
	nextDay := now.Add(24 * time.Hour)
	daily, weekly, err := rw.Incr(ctx, "sub-1", nextDay)
	require.NoError(t, err)
	assert.Equal(t, 1, daily)
	assert.Equal(t, 3, weekly)

	// Next ISO week: both start over.
	nextWeek := nextDay.Add(7 * 24 * time.Hour)
	daily, weekly, err = rw.Counts(ctx, "sub-1", nextWeek)
	require.NoError(t, err)
	assert.Equal(t, 0, daily)
	assert.Equal(t, 0, weekly)
}

func TestRedisWindowsKeysExpire(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	rw := NewRedisWindows(client)
	now := testStart

	_, _, err := rw.Incr(ctx, "sub-1", now)
	require.NoError(t, err)

	dayKey := fmt.Sprintf(keyDailyWindow, "sub-1", dayBucket(now))
	weekKey := fmt.Sprintf(keyWeeklyWindow, "sub-1", weekBucket(now))
	assert.Equal(t, dailyWindowTTL, mr.TTL(dayKey))
	assert.Equal(t, weeklyWindowTTL, mr.TTL(weekKey))

	// A second increment must not reset the TTL.
	mr.FastForward(time.Hour)
	_, _, err = rw.Incr(ctx, "sub-1", now)
	require.NoError(t, err)
	assert.Equal(t, dailyWindowTTL-time.Hour, mr.TTL(dayKey))
}

func TestGuardrailWithRedisWindows(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	g, _ := newTestGuardrail(DefaultThresholds())
	g.SetWindowStore(NewRedisWindows(client))

	for i := 0; i < 3; i++ {
		require.NoError(t, g.RecordSend(ctx, "sub-1", "one@example.com", "", ""))
	}

	d := g.Decide(ctx, "sub-1")
	assert.True(t, d.Blocked)
	assert.Contains(t, d.Reason, "3/3")
}
