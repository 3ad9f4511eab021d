package casino

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingSource struct {
	calls  int
	values Settings
	err    error
}

func (s *countingSource) Settings(context.Context) (Settings, error) {
	s.calls++
	return s.values, s.err
}

func TestSettingsDecimal(t *testing.T) {
	s := Settings{"a": "1,5", "b": " 2.25 ", "c": "abc"}

	if d, ok := s.Decimal("a"); !ok || !d.Equal(dec("1.5")) {
		t.Fatalf("a = %s, %v", d, ok)
	}
	if d, ok := s.Decimal("b"); !ok || !d.Equal(dec("2.25")) {
		t.Fatalf("b = %s, %v", d, ok)
	}
	if _, ok := s.Decimal("c"); ok {
		t.Fatalf("malformed value must not parse")
	}
	if _, ok := s.Decimal("missing"); ok {
		t.Fatalf("missing value must not parse")
	}
}

func TestCachedSettings(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{values: Settings{KeyMinBet: "5"}}
	c := NewCachedSettings(src, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		s, err := c.Settings(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if v, _ := s.Get(KeyMinBet); v != "5" {
			t.Fatalf("min_bet = %q", v)
		}
	}
	if src.calls != 1 {
		t.Fatalf("calls = %d, want 1", src.calls)
	}

	now = now.Add(time.Minute)
	if _, err := c.Settings(ctx); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Fatalf("stale entry was not refreshed, calls = %d", src.calls)
	}

	c.Invalidate()
	if _, err := c.Settings(ctx); err != nil {
		t.Fatal(err)
	}
	if src.calls != 3 {
		t.Fatalf("Invalidate did not force a fetch, calls = %d", src.calls)
	}

	c.Invalidate()
	src.err = errors.New("db is down")
	if _, err := c.Settings(ctx); err == nil {
		t.Fatalf("error must be returned")
	}
	src.err = nil
	if _, err := c.Settings(ctx); err != nil {
		t.Fatalf("errors must not be cached: %v", err)
	}
}

func TestCachedSettingsZeroTTL(t *testing.T) {
	src := &countingSource{}
	c := NewCachedSettings(src, 0)

	for i := 0; i < 3; i++ {
		s, err := c.Settings(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if s == nil {
			t.Fatalf("nil snapshot")
		}
	}
	if src.calls != 3 {
		t.Fatalf("calls = %d, want 3", src.calls)
	}
}

func TestSettingsEntryIsStale(t *testing.T) {
	now := time.Now()
	if !(settingsEntry{}).IsStale(now) {
		t.Fatalf("empty entry must be stale")
	}
	e := settingsEntry{values: Settings{}, fetchedAt: now, ttl: time.Second}
	if e.IsStale(now.Add(500 * time.Millisecond)) {
		t.Fatalf("fresh entry reported stale")
	}
	if !e.IsStale(now.Add(time.Second)) {
		t.Fatalf("expired entry reported fresh")
	}
}
