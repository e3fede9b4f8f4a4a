package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/robertbravery/FurryFriends-sub000/services/booking-service/internal/availability"
)

func newCache(t *testing.T) (*ScheduleCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewScheduleCache(rdb, time.Minute), mr
}

func TestScheduleCacheRoundTrip(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "walker-1"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	want := []availability.Window{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 1020},
		{Weekday: time.Saturday, StartMinute: 600, EndMinute: 720},
	}
	if ok, err := c.Set(ctx, "walker-1", 0, want); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := c.Get(ctx, "walker-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
	if ttl := mr.TTL("booking:schedule:walker-1"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	if err := c.Invalidate(ctx, "walker-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "walker-1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestScheduleCacheEmptyScheduleIsAHit(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	if _, err := c.Set(ctx, "walker-2", 0, nil); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := c.Get(ctx, "walker-2")
	if err != nil || !ok || len(got) != 0 {
		t.Fatalf("expected empty hit, got %v ok=%v err=%v", got, ok, err)
	}
}

func TestScheduleCacheExpires(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()
	_, _ = c.Set(ctx, "walker-1", 0, []availability.Window{{Weekday: time.Monday, StartMinute: 0, EndMinute: 60}})
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "walker-1"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestScheduleCacheCorruptEntryIsMiss(t *testing.T) {
	c, mr := newCache(t)
	_ = mr.Set("booking:schedule:walker-1", "not json")
	if _, ok, err := c.Get(context.Background(), "walker-1"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestScheduleCacheSetAfterInvalidateIsDropped(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	old := []availability.Window{{Weekday: time.Monday, StartMinute: 540, EndMinute: 1020}}

	gen, err := c.Generation(ctx, "walker-1")
	if err != nil || gen != 0 {
		t.Fatalf("Generation: %d, %v", gen, err)
	}
	// the schedule is replaced while a reader still holds the old windows
	if err := c.Invalidate(ctx, "walker-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	ok, err := c.Set(ctx, "walker-1", gen, old)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok {
		t.Fatal("stale write must be rejected")
	}
	if _, hit, _ := c.Get(ctx, "walker-1"); hit {
		t.Fatal("expected miss after rejected write")
	}

	gen, err = c.Generation(ctx, "walker-1")
	if err != nil || gen != 1 {
		t.Fatalf("Generation after invalidate: %d, %v", gen, err)
	}
	if ok, err := c.Set(ctx, "walker-1", gen, old); err != nil || !ok {
		t.Fatalf("fresh write: ok=%v err=%v", ok, err)
	}
	if _, hit, _ := c.Get(ctx, "walker-1"); !hit {
		t.Fatal("expected hit after fresh write")
	}
}
