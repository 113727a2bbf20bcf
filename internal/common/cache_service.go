package common

import (
	"fmt"
	"time"

	"geotrail/syncd/internal/constants"

	"github.com/patrickmn/go-cache"
)

// CacheService is the in-memory cache used for reconciliation lookups
type CacheService struct {
	cache *cache.Cache
}

// Ensure CacheService implements CacheInterface
var _ CacheInterface = (*CacheService)(nil)

func NewCacheService(defaultExpiration, cleanUpInterval time.Duration) *CacheService {
	return &CacheService{cache: cache.New(defaultExpiration, cleanUpInterval)}
}

func (cs *CacheService) Set(key string, value interface{}, duration time.Duration) {
	cs.cache.Set(key, value, duration)
}

func (cs *CacheService) Get(key string) (interface{}, bool) {
	return cs.cache.Get(key)
}

func (cs *CacheService) Delete(key string) {
	cs.cache.Delete(key)
}

// GetOrSet returns the cached value or loads and caches it. Loader errors are not cached.
func (cs *CacheService) GetOrSet(
	key string,
	duration time.Duration,
	loader func() (any, error)) (interface{}, error) {
	if val, found := cs.Get(key); found {
		return val, nil
	}

	val, err := loader()
	if err != nil {
		return nil, err
	}

	cs.Set(key, val, duration)
	return val, nil
}

func (cs *CacheService) Flush() {
	cs.cache.Flush()
}

// ItemCount returns the number of entries, including expired ones not yet cleaned up
func (cs *CacheService) ItemCount() int {
	return cs.cache.ItemCount()
}

// MatchKey builds the cache key of a (timestamp, lat, lon) match lookup. Coordinates are
// rounded to the match tolerance.
func MatchKey(timestampMs int64, lat, lon float64) string {
	return fmt.Sprintf("%s%d_%.7f_%.7f", constants.CachePrefixMatchKey, timestampMs, lat, lon)
}
