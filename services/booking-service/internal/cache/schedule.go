package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
)

// ScheduleCache stores a provider's weekly windows in Redis as JSON, next to a
// per-provider generation counter. Invalidate bumps the generation, and Set only
// writes when the generation still matches the one read before the database
// load, so a slow reader can never put a replaced schedule back.
type ScheduleCache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	prefix string
}

type cachedWindow struct {
	Weekday int `json:"d"`
	Start   int `json:"s"`
	End     int `json:"e"`
}

func NewScheduleCache(rdb redis.Cmdable, ttl time.Duration) *ScheduleCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ScheduleCache{rdb: rdb, ttl: ttl, prefix: "booking:schedule:"}
}

var (
	setIfGenerationScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)
	invalidateScript = redis.NewScript(`
redis.call("INCR", KEYS[1])
redis.call("DEL", KEYS[2])
return 1
`)
)

func (c *ScheduleCache) key(providerID string) string {
	return c.prefix + providerID
}

func (c *ScheduleCache) genKey(providerID string) string {
	return c.prefix + providerID + ":gen"
}

// Get reports ok=false on a miss. An empty schedule is cached too, as "[]".
func (c *ScheduleCache) Get(ctx context.Context, providerID string) ([]availability.Window, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(providerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get schedule: %w", err)
	}
	var cached []cachedWindow
	if err := json.Unmarshal(raw, &cached); err != nil {
		// treat a corrupt entry as a miss; the next Set overwrites it
		return nil, false, nil
	}
	windows := make([]availability.Window, 0, len(cached))
	for _, w := range cached {
		windows = append(windows, availability.Window{Weekday: time.Weekday(w.Weekday), StartMinute: w.Start, EndMinute: w.End})
	}
	return windows, true, nil
}

// Generation returns the provider's current cache generation. Read it before
// loading the schedule from the store and pass it to Set.
func (c *ScheduleCache) Generation(ctx context.Context, providerID string) (int64, error) {
	gen, err := c.rdb.Get(ctx, c.genKey(providerID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get schedule generation: %w", err)
	}
	return gen, nil
}

// Set stores windows unless the schedule was invalidated after gen was read.
// It reports whether the entry was written.
func (c *ScheduleCache) Set(ctx context.Context, providerID string, gen int64, windows []availability.Window) (bool, error) {
	cached := make([]cachedWindow, 0, len(windows))
	for _, w := range windows {
		cached = append(cached, cachedWindow{Weekday: int(w.Weekday), Start: w.StartMinute, End: w.EndMinute})
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return false, err
	}
	n, err := setIfGenerationScript.Run(ctx, c.rdb,
		[]string{c.genKey(providerID), c.key(providerID)},
		strconv.FormatInt(gen, 10), raw, c.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis set schedule: %w", err)
	}
	return n == 1, nil
}

// Invalidate drops the entry and fences off readers that started before it.
func (c *ScheduleCache) Invalidate(ctx context.Context, providerID string) error {
	err := invalidateScript.Run(ctx, c.rdb, []string{c.genKey(providerID), c.key(providerID)}).Err()
	if err != nil {
		return fmt.Errorf("redis invalidate schedule: %w", err)
	}
	return nil
}

// ReadyCheck pings Redis.
func ReadyCheck(rdb redis.Cmdable) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
