package store

import (
	"fmt"
	"time"

	"github.com/go-redis/redis"
	log "github.com/sirupsen/logrus"
)

// ListCache caches serialized list responses. The read path treats it as
// strictly best-effort: every cache failure degrades to a store query, never
// to an error.
type ListCache interface {
	Get(key string) (string, bool)
	Put(key, val string)
}

// ListCacheKey derives the cache key for one page of the public listing
func ListCacheKey(limit, page int) string {
	return fmt.Sprintf("notes.list.%d.%d", limit, page)
}

// RedisListCache implements ListCache with Redis. Entries expire after TTL so
// freshly accepted notes show up within seconds even though reads are cached.
// Redis rather than a process-local cache because reader instances may be
// short-lived and never see the same request twice.
type RedisListCache struct {
	DB  *redis.Client
	TTL time.Duration
}

func (c *RedisListCache) Get(key string) (string, bool) {
	v, err := c.DB.Get(key).Result()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("cacheKey", key).Warning("error reading list cache")
		}
		return "", false
	}
	return v, true
}

func (c *RedisListCache) Put(key, val string) {
	if _, err := c.DB.Set(key, val, c.TTL).Result(); err != nil {
		log.WithError(err).WithField("cacheKey", key).Warning("error writing list cache")
	}
}
