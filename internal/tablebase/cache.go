package tablebase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config bounds the cache and the fetch budget.
type Config struct {
	MaxPieces   int
	Size        int
	TTL         time.Duration
	NegativeTTL time.Duration
	// FetchBudget caps one de-duplicated fetch including retries.
	FetchBudget time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPieces:   DefaultMaxPieces,
		Size:        500,
		TTL:         30 * time.Minute,
		NegativeTTL: 10 * time.Minute,
		FetchBudget: 20 * time.Second,
	}
}

// Store is a second-level cache shared across processes. A nil entry with
// found=true is a cached "not in tablebase" answer.
type Store interface {
	Load(ctx context.Context, fen string) (entry *Entry, found bool, err error)
	Save(ctx context.Context, fen string, entry *Entry, ttl time.Duration) error
}

type cacheEntry struct {
	entry     *Entry
	expiresAt time.Time
}

type Stats struct {
	Hits     int64
	Misses   int64
	Fetches  int64
	Shared   int64
	Negative int64
	Gated    int64
	Size     int
}

// Cache serves tablebase entries with at most one in-flight fetch per
// normalized FEN.
type Cache struct {
	fetcher Fetcher
	store   Store
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	lru   *expirable.LRU[string, cacheEntry]
	group singleflight.Group

	hits, misses, fetches, shared, negative, gated atomic.Int64
}

type CacheOption func(*Cache)

func WithStore(s Store) CacheOption {
	return func(c *Cache) { c.store = s }
}

func WithCacheLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewCache(fetcher Fetcher, cfg Config, opts ...CacheOption) (*Cache, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("tablebase fetcher is required")
	}
	def := DefaultConfig()
	if cfg.MaxPieces <= 0 {
		cfg.MaxPieces = def.MaxPieces
	}
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = cfg.TTL
	}
	if cfg.FetchBudget <= 0 {
		cfg.FetchBudget = def.FetchBudget
	}
	c := &Cache{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  zap.NewNop(),
		now:     time.Now,
		lru:     expirable.NewLRU[string, cacheEntry](cfg.Size, nil, max(cfg.TTL, cfg.NegativeTTL)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Evaluation returns the side-to-move result for fen. (nil, nil) means the
// tablebase has no data for the position.
func (c *Cache) Evaluation(ctx context.Context, fen string) (*Result, error) {
	entry, err := c.Entry(ctx, fen)
	if err != nil || entry == nil {
		return nil, err
	}
	res := entry.Position
	return &res, nil
}

// TopMoves ranks the moves of the cached entry; it never fetches more than
// Entry does.
func (c *Cache) TopMoves(ctx context.Context, fen string, limit int) ([]Move, error) {
	entry, err := c.Entry(ctx, fen)
	if err != nil || entry == nil {
		return nil, err
	}
	return BestMoves(entry.Moves, limit), nil
}

// Entry returns the shared entry for fen, fetching it at most once per
// normalized position while the lookup is in flight.
func (c *Cache) Entry(ctx context.Context, fen string) (*Entry, error) {
	key, err := NormalizeFEN(fen)
	if err != nil {
		return nil, err
	}
	if CountPieces(key) > c.cfg.MaxPieces {
		c.gated.Add(1)
		return nil, nil
	}
	if entry, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return entry, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.shared.Add(1)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		entry, _ := res.Val.(*Entry)
		return entry, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(parent context.Context, key string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.FetchBudget)
	defer cancel()

	if entry, ok := c.lookup(key); ok {
		return entry, nil
	}
	if c.store != nil {
		entry, found, err := c.store.Load(ctx, key)
		if err != nil {
			c.logger.Warn("tablebase_store_load_failed", zap.String("fen", key), zap.Error(err))
		} else if found {
			c.remember(key, entry)
			return entry, nil
		}
	}

	c.fetches.Add(1)
	started := c.now()
	resp, err := c.fetcher.Fetch(ctx, key)
	if errors.Is(err, ErrNotFound) {
		c.negative.Add(1)
		c.remember(key, nil)
		c.persist(ctx, key, nil)
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("tablebase_fetch_failed", zap.String("fen", key), zap.Error(err))
		return nil, err
	}
	entry, err := buildEntry(key, resp, c.now())
	if err != nil {
		return nil, err
	}
	c.remember(key, entry)
	c.persist(ctx, key, entry)
	c.logger.Debug("tablebase_fetch",
		zap.String("fen", key),
		zap.String("category", string(entry.Position.Category)),
		zap.Int("moves", len(entry.Moves)),
		zap.Duration("took", c.now().Sub(started)),
	)
	return entry, nil
}

func (c *Cache) lookup(key string) (*Entry, bool) {
	item, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !c.now().Before(item.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return item.entry, true
}

func (c *Cache) remember(key string, entry *Entry) {
	ttl := c.cfg.TTL
	if entry == nil {
		ttl = c.cfg.NegativeTTL
	}
	c.lru.Add(key, cacheEntry{entry: entry, expiresAt: c.now().Add(ttl)})
}

func (c *Cache) persist(ctx context.Context, key string, entry *Entry) {
	if c.store == nil {
		return
	}
	ttl := c.cfg.TTL
	if entry == nil {
		ttl = c.cfg.NegativeTTL
	}
	if err := c.store.Save(ctx, key, entry, ttl); err != nil {
		c.logger.Warn("tablebase_store_save_failed", zap.String("fen", key), zap.Error(err))
	}
}

// Forgetter is implemented by stores that can drop a single position.
type Forgetter interface {
	Forget(ctx context.Context, fen string) error
}

// Forget drops fen from L1 and, when the store supports it, from the shared
// store, so the next lookup goes back to the API.
func (c *Cache) Forget(ctx context.Context, fen string) error {
	key, err := NormalizeFEN(fen)
	if err != nil {
		return err
	}
	c.lru.Remove(key)
	if f, ok := c.store.(Forgetter); ok {
		if err := f.Forget(ctx, key); err != nil {
			return fmt.Errorf("forget %s: %w", key, err)
		}
	}
	return nil
}

// Clear drops every L1 entry. The shared store is left alone.
func (c *Cache) Clear() {
	c.lru.Purge()
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Fetches:  c.fetches.Load(),
		Shared:   c.shared.Load(),
		Negative: c.negative.Load(),
		Gated:    c.gated.Load(),
		Size:     c.lru.Len(),
	}
}
