package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"coinchart/internal/marketdata/history"
	"coinchart/internal/marketdata/livesample"
	"coinchart/internal/model"
)

const (
	DefaultPriceTTL = 2 * time.Second
	DefaultPageTTL  = time.Minute
)

// CacheStats receives hit/miss counts. Optional.
type CacheStats interface {
	CacheLookup(cache string, hit bool)
}

// PriceCache shares live price polls between sessions watching the same coin.
type PriceCache struct {
	client *goredis.Client
	next   livesample.PriceSource
	ttl    time.Duration
	stats  CacheStats
}

// NewPriceCache decorates next. ttl <= 0 selects DefaultPriceTTL.
func NewPriceCache(client *goredis.Client, next livesample.PriceSource, ttl time.Duration, stats CacheStats) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceCache{client: client, next: next, ttl: ttl, stats: stats}
}

// LatestPrice serves the price from Redis when fresh, else asks upstream.
func (c *PriceCache) LatestPrice(ctx context.Context, coin string) (float64, error) {
	key := priceKey(coin)

	v, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if p, perr := strconv.ParseFloat(v, 64); perr == nil && p > 0 {
			c.lookup("price", true)
			return p, nil
		}
	case !errors.Is(err, goredis.Nil):
		log.Warn().Err(err).Str("key", key).Msg("[redis] price cache read failed")
	}
	c.lookup("price", false)

	p, err := c.next.LatestPrice(ctx, coin)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, strconv.FormatFloat(p, 'f', -1, 64), c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[redis] price cache write failed")
	}
	return p, nil
}

func (c *PriceCache) lookup(name string, hit bool) {
	if c.stats != nil {
		c.stats.CacheLookup(name, hit)
	}
}

// PageCache caches older history pages. Pages ending before a fixed time
// do not change, so they can be shared. The most recent page is never
// cached because its last bar is still forming.
type PageCache struct {
	client *goredis.Client
	next   history.Source
	ttl    time.Duration
	stats  CacheStats
}

// NewPageCache decorates next. ttl <= 0 selects DefaultPageTTL.
func NewPageCache(client *goredis.Client, next history.Source, ttl time.Duration, stats CacheStats) *PageCache {
	if ttl <= 0 {
		ttl = DefaultPageTTL
	}
	return &PageCache{client: client, next: next, ttl: ttl, stats: stats}
}

// Candles implements history.Source.
func (c *PageCache) Candles(ctx context.Context, q history.PageQuery) ([]model.Candle, error) {
	if !q.Paginated() {
		return c.next.Candles(ctx, q)
	}
	key := pageKey(q)

	b, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []model.Candle
		if jerr := json.Unmarshal(b, &cached); jerr == nil {
			c.lookup(true)
			return cached, nil
		}
	case !errors.Is(err, goredis.Nil):
		log.Warn().Err(err).Str("key", key).Msg("[redis] page cache read failed")
	}
	c.lookup(false)

	candles, err := c.next.Candles(ctx, q)
	if err != nil {
		return nil, err
	}
	// Empty pages mark the end of history; keep those out so a later
	// listing backfill is not hidden.
	if len(candles) == 0 {
		return candles, nil
	}
	payload, err := json.Marshal(candles)
	if err == nil {
		err = c.client.Set(ctx, key, payload, c.ttl).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[redis] page cache write failed")
	}
	return candles, nil
}

func (c *PageCache) lookup(hit bool) {
	if c.stats != nil {
		c.stats.CacheLookup("page", hit)
	}
}

func priceKey(coin string) string {
	return keyPrefix + "price:" + strings.ToUpper(coin)
}

func pageKey(q history.PageQuery) string {
	return keyPrefix + "page:" + strings.ToUpper(q.Coin) + ":" + string(q.Timeframe) +
		":" + strconv.Itoa(q.Limit) + ":" + strconv.FormatInt(q.Before, 10)
}
