package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

//go:generate moq -rm -out cache_mock.go . Cache

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
}

type Config struct {
	Size      int           `yaml:"size"`
	RedisAddr string        `yaml:"redisAddr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	Prefix    string        `yaml:"prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// New returns a redis backed cache when an address is configured and an
// in-process LRU otherwise.
func New(ctx context.Context, cfg Config) (Cache, error) {
	if cfg.RedisAddr != "" {
		return NewRedis(ctx, cfg)
	}
	return NewMemory(cfg.Size)
}

type entry struct {
	value   []byte
	expires time.Time
}

type memoryCache struct {
	mu    sync.Mutex
	items *lru.Cache[string, entry]
	now   func() time.Time
}

func NewMemory(size int) (Cache, error) {
	if size <= 0 {
		size = 1024
	}

	items, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}

	return &memoryCache{items: items, now: time.Now}, nil
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}

	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.items.Remove(key)
		return nil, false, nil
	}

	return e.value, true, nil
}

// Set stores value under key. A ttl of zero keeps the entry until it is evicted.
func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}

	c.items.Add(key, e)

	return nil
}

func (c *memoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Purge()

	return nil
}
