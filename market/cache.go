package market

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultQuoteTTL bounds how long a cached quote may be served.
const DefaultQuoteTTL = 5 * time.Second

type cacheEntry struct {
	quote   Quote
	fetched time.Time
}

// Cache is a read-through per-instrument quote cache shared by every
// strategy on an account. Reusing one Cache within an evaluation cycle keeps
// floating P/L math internally consistent and bounds fetch frequency.
type Cache struct {
	mu      sync.Mutex
	src     QuoteSource
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type CacheOption func(*Cache)

// WithClock overrides the cache's time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(src QuoteSource, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	c := &Cache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached quote for an instrument, fetching through to the
// source when the entry is missing or older than the TTL. Expired entries
// are replaced, never served. A source failure or a zero bid/ask surfaces
// ErrQuoteUnavailable.
func (c *Cache) Get(ctx context.Context, instrument string) (Quote, error) {
	if err := ValidateInstrument(instrument); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[instrument]; ok && now.Sub(e.fetched) < c.ttl {
		return e.quote, nil
	}

	q, err := c.src.GetQuote(ctx, instrument)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: fetch %s: %v", ErrQuoteUnavailable, instrument, err)
	}
	if q.Bid <= 0 || q.Ask <= 0 {
		return Quote{}, fmt.Errorf("%w: %s returned bid=%v ask=%v", ErrQuoteUnavailable, instrument, q.Bid, q.Ask)
	}
	q.Instrument = instrument

	c.entries[instrument] = cacheEntry{quote: q, fetched: now}
	return q, nil
}

// Invalidate drops the cached entry for an instrument.
func (c *Cache) Invalidate(instrument string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, instrument)
}
