package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dashboard/domain"
)

type itemBackend interface {
	ListItems(ctx context.Context, owner string) ([]domain.Item, error)
	GetItem(ctx context.Context, owner, id string) (domain.Item, error)
	CreateItem(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error)
	UpdateItem(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error)
	DeleteItem(ctx context.Context, owner, id string) error
	ReorderItems(ctx context.Context, owner string, ids []string) ([]domain.Item, error)
}

// Cache wraps an item store with a Redis read-through cache of each owner's
// list. Writes go to the base store and then bump the owner's generation,
// so a list fetched before the write can never be served after it.
type Cache struct {
	base  itemBackend
	redis *redis.Client
	ttl   time.Duration
}

type cachedList struct {
	Generation int64         `json:"generation"`
	Items      []domain.Item `json:"items"`
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A nil client or zero TTL disables caching.
func NewCache(base itemBackend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListItems(ctx context.Context, owner string) ([]domain.Item, error) {
	gen, ok := c.generation(ctx, owner)
	if ok {
		if items, hit := c.load(ctx, owner, gen); hit {
			return items, nil
		}
	}

	items, err := c.base.ListItems(ctx, owner)
	if err != nil {
		return nil, err
	}
	if ok {
		c.store(ctx, owner, gen, items)
	}
	return items, nil
}

func (c *Cache) GetItem(ctx context.Context, owner, id string) (domain.Item, error) {
	return c.base.GetItem(ctx, owner, id)
}

func (c *Cache) CreateItem(ctx context.Context, owner string, in domain.ItemInput) (domain.Item, error) {
	item, err := c.base.CreateItem(ctx, owner, in)
	if err != nil {
		return domain.Item{}, err
	}
	c.evict(ctx, owner)
	return item, nil
}

func (c *Cache) UpdateItem(ctx context.Context, owner, id string, patch domain.ItemPatch) (domain.Item, error) {
	item, err := c.base.UpdateItem(ctx, owner, id, patch)
	if err != nil {
		return domain.Item{}, err
	}
	c.evict(ctx, owner)
	return item, nil
}

func (c *Cache) DeleteItem(ctx context.Context, owner, id string) error {
	if err := c.base.DeleteItem(ctx, owner, id); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) ReorderItems(ctx context.Context, owner string, ids []string) ([]domain.Item, error) {
	items, err := c.base.ReorderItems(ctx, owner, ids)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, owner)
	return items, nil
}

func (c *Cache) enabled() bool { return c.redis != nil && c.ttl > 0 }

// generation returns the owner's current cache generation. ok is false when
// the cache is disabled or Redis cannot be reached.
func (c *Cache) generation(ctx context.Context, owner string) (int64, bool) {
	if !c.enabled() {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(owner)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	if err != nil {
		log.WithError(err).WithField("owner", owner).Debug("items cache unavailable")
		return 0, false
	}
	return gen, true
}

func (c *Cache) load(ctx context.Context, owner string, gen int64) ([]domain.Item, bool) {
	data, err := c.redis.Get(ctx, itemsCacheKey(owner)).Bytes()
	if err != nil {
		return nil, false
	}
	var entry cachedList
	if err := sonic.Unmarshal(data, &entry); err != nil {
		_ = c.redis.Del(ctx, itemsCacheKey(owner)).Err()
		return nil, false
	}
	if entry.Generation != gen {
		return nil, false
	}
	if entry.Items == nil {
		entry.Items = []domain.Item{}
	}
	return entry.Items, true
}

func (c *Cache) store(ctx context.Context, owner string, gen int64, items []domain.Item) {
	data, err := sonic.Marshal(cachedList{Generation: gen, Items: items})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, itemsCacheKey(owner), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	pipe := c.redis.TxPipeline()
	pipe.Incr(ctx, generationKey(owner))
	pipe.Del(ctx, itemsCacheKey(owner))
	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).WithField("owner", owner).Warn("items cache eviction failed")
	}
}

func itemsCacheKey(owner string) string {
	return "dashboard:items:" + owner
}

func generationKey(owner string) string {
	return "dashboard:items-gen:" + owner
}
