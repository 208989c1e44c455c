// Package cache provides a read-through, write-through memory cache in
// front of the persistent token and application stores. Entries carry a
// housekeeping expiry that bounds memory residency only; business
// expiry stays with the record and is enforced by the caller.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mainhub/authority/instrumentation"
	"github.com/mainhub/authority/storage"
)

// Config holds cache tuning parameters.
type Config struct {
	// Lifetime is the housekeeping TTL of a memory entry, measured from
	// first caching. Repeated hits do not extend it.
	Lifetime time.Duration

	// HousekeepingInterval is how often stale memory entries are purged.
	// Zero disables the background loop; SweepHousekeeping can still be
	// called directly.
	HousekeepingInterval time.Duration
}

type tokenEntry struct {
	record  storage.TokenRecord
	staleAt time.Time
}

type appEntry struct {
	app     storage.Application
	staleAt time.Time
}

// Cache is safe for concurrent use by multiple request handlers.
type Cache struct {
	tokens  storage.TokenStore
	apps    storage.ApplicationStore
	config  Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	tokenByKey map[storage.Kind]map[string]tokenEntry
	appByID    map[string]appEntry

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates a cache over the given stores and starts the housekeeping
// loop when an interval is configured. Close stops the loop.
func New(tokens storage.TokenStore, apps storage.ApplicationStore, config Config, logger *slog.Logger, metrics *instrumentation.Metrics) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	byKey := make(map[storage.Kind]map[string]tokenEntry, 3)
	for _, kind := range storage.Kinds() {
		byKey[kind] = make(map[string]tokenEntry)
	}

	c := &Cache{
		tokens:     tokens,
		apps:       apps,
		config:     config,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		tokenByKey: byKey,
		appByID:    make(map[string]appEntry),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	if config.HousekeepingInterval > 0 {
		go c.housekeepingLoop()
	} else {
		close(c.doneCh)
	}
	return c
}

func key(clientID, uid string) string {
	return clientID + "\x00" + uid
}

// GetToken returns the record for the composite key, serving from
// memory when a fresh entry exists and falling back to the store
// otherwise. A store hit is cached with a fresh housekeeping expiry.
func (c *Cache) GetToken(ctx context.Context, kind storage.Kind, clientID, uid string) (*storage.TokenRecord, error) {
	k := key(clientID, uid)
	now := c.now()

	c.mu.RLock()
	entry, ok := c.tokenByKey[kind][k]
	c.mu.RUnlock()
	if ok && now.Before(entry.staleAt) {
		c.metrics.RecordCacheHit(ctx, kind.String())
		rec := entry.record
		return &rec, nil
	}

	c.metrics.RecordCacheMiss(ctx, kind.String())
	rec, err := c.tokens.GetToken(ctx, kind, clientID, uid)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tokenByKey[kind][k] = tokenEntry{record: *rec, staleAt: now.Add(c.config.Lifetime)}
	c.mu.Unlock()
	return rec, nil
}

// PutToken writes the record to memory first, then to the store. A get
// immediately after put is served from memory even if the store write
// failed; the store error is still returned so callers can refuse to
// hand out a token that was never persisted.
func (c *Cache) PutToken(ctx context.Context, kind storage.Kind, rec *storage.TokenRecord) error {
	c.mu.Lock()
	c.tokenByKey[kind][key(rec.ClientID, rec.UID)] = tokenEntry{
		record:  *rec,
		staleAt: c.now().Add(c.config.Lifetime),
	}
	c.mu.Unlock()

	if err := c.tokens.AddToken(ctx, kind, rec); err != nil {
		return fmt.Errorf("failed to persist %s record: %w", kind, err)
	}
	return nil
}

// DeleteToken removes the record from memory and the store. The store
// leg is best-effort: a failure is logged and does not abort.
func (c *Cache) DeleteToken(ctx context.Context, kind storage.Kind, clientID, uid string) {
	c.mu.Lock()
	delete(c.tokenByKey[kind], key(clientID, uid))
	c.mu.Unlock()

	if _, err := c.tokens.DeleteToken(ctx, kind, clientID, uid); err != nil {
		c.logger.Warn("store delete failed",
			"kind", kind.String(),
			"client_id", clientID,
			"error", err)
	}
}

// ConsumeToken atomically claims and returns a single-use record. When
// several callers race on the same key, exactly one receives the record;
// the rest observe storage.ErrNotFound. The store's delete claim is the
// arbiter, so the guarantee holds across processes.
func (c *Cache) ConsumeToken(ctx context.Context, kind storage.Kind, clientID, uid string) (*storage.TokenRecord, error) {
	rec, err := c.GetToken(ctx, kind, clientID, uid)
	if err != nil {
		return nil, err
	}

	claimed, err := c.tokens.DeleteToken(ctx, kind, clientID, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s record: %w", kind, err)
	}

	c.mu.Lock()
	delete(c.tokenByKey[kind], key(clientID, uid))
	c.mu.Unlock()

	if !claimed {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

// GetApplication returns the registered application, read-through with
// housekeeping expiry only. Applications have no business expiry.
func (c *Cache) GetApplication(ctx context.Context, id string) (*storage.Application, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.appByID[id]
	c.mu.RUnlock()
	if ok && now.Before(entry.staleAt) {
		c.metrics.RecordCacheHit(ctx, "application")
		app := entry.app
		return &app, nil
	}

	c.metrics.RecordCacheMiss(ctx, "application")
	app, err := c.apps.GetApplication(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.appByID[id] = appEntry{app: *app, staleAt: now.Add(c.config.Lifetime)}
	c.mu.Unlock()
	return app, nil
}

// SweepHousekeeping purges memory entries whose housekeeping expiry has
// lapsed, regardless of business validity. Returns the number removed.
func (c *Cache) SweepHousekeeping(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, kind := range storage.Kinds() {
		for k, entry := range c.tokenByKey[kind] {
			if !now.Before(entry.staleAt) {
				delete(c.tokenByKey[kind], k)
				removed++
			}
		}
	}
	for id, entry := range c.appByID {
		if !now.Before(entry.staleAt) {
			delete(c.appByID, id)
			removed++
		}
	}
	return removed
}

// SweepExpired deletes business-expired records from the backing store
// and purges any still-cached entries whose business expiry has lapsed.
// The three store deletes are isolated: each failure is logged and the
// remaining kinds are still attempted.
func (c *Cache) SweepExpired(ctx context.Context, now int64) {
	for _, kind := range storage.Kinds() {
		if err := c.tokens.DeleteExpiredTokens(ctx, kind, now); err != nil {
			c.logger.Error("expiry sweep failed",
				"kind", kind.String(),
				"error", err)
		}
	}

	c.mu.Lock()
	removed := 0
	for _, kind := range storage.Kinds() {
		for k, entry := range c.tokenByKey[kind] {
			if entry.record.ExpiresAt <= now {
				delete(c.tokenByKey[kind], k)
				removed++
			}
		}
	}
	c.mu.Unlock()

	c.metrics.RecordSweepRun(ctx, "expired")
	c.metrics.RecordCacheEvictions(ctx, "expired", int64(removed))
}

func (c *Cache) housekeepingLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			removed := c.SweepHousekeeping(now)
			ctx := context.Background()
			c.metrics.RecordSweepRun(ctx, "housekeeping")
			c.metrics.RecordCacheEvictions(ctx, "housekeeping", int64(removed))
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the housekeeping loop and waits for it to exit. Safe to
// call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}
