package casino

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Runtime setting keys. Multiplier keys are built by the resolver and evaluator.
const (
	KeyMinBet            = "min_bet"
	KeyProfitGuardTarget = "profit_guard_target"
	KeyMinesBase         = "mines_base_multiplier"
	KeyMinesSafeChance   = "mines_safe_chance"
	KeyRerollMaxAttempts = "reroll_max_attempts"
)

// Settings is a snapshot of the settings table. Values are parsed by callers.
type Settings map[string]string

// Get returns raw value.
func (s Settings) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// Decimal returns parsed value, ok is false for missing or malformed values.
func (s Settings) Decimal(key string) (decimal.Decimal, bool) {
	v, ok := s[key]
	if !ok {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.TrimSpace(strings.Replace(v, ",", ".", 1)))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// SettingsSource loads a fresh snapshot.
type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

// StaticSettings is a SettingsSource over a fixed map.
type StaticSettings Settings

func (s StaticSettings) Settings(context.Context) (Settings, error) {
	return Settings(s), nil
}

type settingsEntry struct {
	values    Settings
	fetchedAt time.Time
	ttl       time.Duration
}

// IsStale reports whether the entry has to be fetched again.
func (e settingsEntry) IsStale(now time.Time) bool {
	return e.values == nil || now.Sub(e.fetchedAt) >= e.ttl
}

// CachedSettings keeps a snapshot for ttl. Zero ttl disables caching.
type CachedSettings struct {
	src SettingsSource
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	entry settingsEntry
}

func NewCachedSettings(src SettingsSource, ttl time.Duration) *CachedSettings {
	return &CachedSettings{src: src, ttl: ttl, now: time.Now}
}

func (c *CachedSettings) Settings(ctx context.Context) (Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.entry.IsStale(now) {
		return c.entry.values, nil
	}

	values, err := c.src.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = Settings{}
	}
	c.entry = settingsEntry{values: values, fetchedAt: now, ttl: c.ttl}

	return values, nil
}

// Invalidate drops the cached snapshot, next call fetches a fresh one.
func (c *CachedSettings) Invalidate() {
	c.mu.Lock()
	c.entry = settingsEntry{}
	c.mu.Unlock()
}
