// Package tokencache holds one externally issued credential and refreshes it
// ahead of expiry.
//
// A cached token is served while now < expiresAt - refreshMargin, where
// expiresAt = fetchedAt + ttl - safetyMargin. Otherwise the fetch function is
// called; concurrent misses share one fetch, which is detached from the
// cancellation of whichever caller started it and bounded by FetchTimeout
// instead. A failed fetch is returned to the caller and the stale token is
// never served.
package tokencache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/shilei2024/foodai/internal/client/kv"
	"github.com/shilei2024/foodai/internal/common"
	"github.com/shilei2024/foodai/internal/logging"
)

const (
	DefaultRefreshMargin = 5 * time.Minute
	DefaultSafetyMargin  = time.Minute
	DefaultFetchTimeout  = 30 * time.Second
)

// Token is what a provider hands out.
type Token struct {
	Value string
	TTL   time.Duration
}

// FetchFunc obtains a fresh token from the provider.
type FetchFunc func(ctx context.Context) (Token, error)

// Entry is the cached slot.
type Entry struct {
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Options configures a Cache. Zero margins select the defaults; a negative
// margin disables it.
type Options struct {
	RefreshMargin time.Duration
	SafetyMargin  time.Duration
	// FetchTimeout bounds one shared fetch. Zero selects the default.
	FetchTimeout time.Duration

	// Store, when set, keeps the slot under Key so a valid token survives
	// restarts. Persistence is best effort: failures are logged only.
	Store kv.Store
	Key   string

	Clock  clockwork.Clock
	Logger logging.Logger
}

type Cache struct {
	refreshMargin time.Duration
	safetyMargin  time.Duration
	fetchTimeout  time.Duration
	store         kv.Store
	key           string
	clock         clockwork.Clock
	log           logging.Logger

	mu     sync.Mutex
	entry  *Entry
	loaded bool

	group singleflight.Group
}

func New(opts Options) *Cache {
	c := &Cache{
		refreshMargin: opts.RefreshMargin,
		safetyMargin:  opts.SafetyMargin,
		fetchTimeout:  opts.FetchTimeout,
		store:         opts.Store,
		key:           opts.Key,
		clock:         opts.Clock,
		log:           opts.Logger,
	}
	c.refreshMargin = margin(c.refreshMargin, DefaultRefreshMargin)
	c.safetyMargin = margin(c.safetyMargin, DefaultSafetyMargin)
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.key == "" {
		c.key = "foodai.token"
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	c.log = c.log.With("module", "tokencache", "key", c.key)
	return c
}

// GetToken returns the cached token or fetches a new one.
func (c *Cache) GetToken(ctx context.Context, fetch FetchFunc) (string, error) {
	if v, ok := c.fresh(ctx); ok {
		return v, nil
	}

	ch := c.group.DoChan(c.key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		if v, ok := c.fresh(fctx); ok {
			return v, nil
		}
		return c.refresh(fctx, fetch)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// Invalidate drops the cached token, e.g. after the remote side rejected it.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.entry = nil
	c.loaded = true
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Remove(ctx, c.key); err != nil {
		c.log.Warn(ctx, "failed to remove persisted token", "error", err)
	}
}

// Peek returns the cached slot, fresh or not.
func (c *Cache) Peek(ctx context.Context) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)
	if c.entry == nil {
		return Entry{}, false
	}
	return *c.entry, true
}

func (c *Cache) fresh(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(ctx)
	if c.entry == nil {
		return "", false
	}
	if c.clock.Now().Before(c.entry.ExpiresAt.Add(-c.refreshMargin)) {
		return c.entry.Value, true
	}
	return "", false
}

func (c *Cache) refresh(ctx context.Context, fetch FetchFunc) (string, error) {
	tok, err := fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.Value == "" {
		return "", fmt.Errorf("fetch token: empty value: %w", common.ErrInvalidToken)
	}

	now := c.clock.Now()
	e := &Entry{
		Value:     tok.Value,
		IssuedAt:  now,
		ExpiresAt: now.Add(tok.TTL - c.safetyMargin),
	}

	c.mu.Lock()
	c.entry = e
	c.loaded = true
	c.mu.Unlock()

	c.log.Debug(ctx, "token refreshed", "expires_at", e.ExpiresAt)
	c.persist(ctx, *e)
	return e.Value, nil
}

// loadLocked reads the persisted slot once. c.mu must be held.
func (c *Cache) loadLocked(ctx context.Context) {
	if c.loaded || c.store == nil {
		return
	}
	c.loaded = true

	data, err := c.store.Get(ctx, c.key)
	if err != nil {
		c.log.Warn(ctx, "failed to load persisted token", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil || e.Value == "" {
		c.log.Warn(ctx, "ignoring unreadable persisted token", "error", err)
		return
	}
	c.entry = &e
}

func (c *Cache) persist(ctx context.Context, e Entry) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.log.Warn(ctx, "failed to encode token", "error", err)
		return
	}
	if err := c.store.Set(ctx, c.key, data); err != nil {
		c.log.Warn(ctx, "failed to persist token", "error", err)
	}
}

func margin(d, def time.Duration) time.Duration {
	switch {
	case d == 0:
		return def
	case d < 0:
		return 0
	}
	return d
}
