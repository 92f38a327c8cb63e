package market

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	quotes map[string]Quote
	err    error
	calls  map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		quotes: make(map[string]Quote),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) set(instrument string, bid, ask float64) {
	f.quotes[instrument] = Quote{Instrument: instrument, Bid: bid, Ask: ask}
}

func (f *fakeSource) GetQuote(ctx context.Context, instrument string) (Quote, error) {
	f.calls[instrument]++
	if f.err != nil {
		return Quote{}, f.err
	}
	q, ok := f.quotes[instrument]
	if !ok {
		return Quote{}, errors.New("no such instrument")
	}
	return q, nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(src *fakeSource, ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewCache(src, ttl, WithClock(clock.now)), clock
}

func TestCacheServesFreshEntryWithoutRefetch(t *testing.T) {
	src := newFakeSource()
	src.set("EURUSD", 1.1000, 1.1002)
	cache, clock := newTestCache(src, 5*time.Second)

	q1, err := cache.Get(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}

	// A changed upstream price must not leak through while the entry is
	// still fresh.
	src.set("EURUSD", 1.2000, 1.2002)
	clock.advance(4 * time.Second)

	q2, err := cache.Get(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if q2.Bid != q1.Bid || q2.Ask != q1.Ask {
		t.Fatalf("cached quote changed: got %v/%v want %v/%v", q2.Bid, q2.Ask, q1.Bid, q1.Ask)
	}
	if n := src.calls["EURUSD"]; n != 1 {
		t.Fatalf("expected 1 fetch, got %d", n)
	}
}

func TestCacheRefetchesExpiredEntry(t *testing.T) {
	src := newFakeSource()
	src.set("EURUSD", 1.1000, 1.1002)
	cache, clock := newTestCache(src, 5*time.Second)

	if _, err := cache.Get(context.Background(), "EURUSD"); err != nil {
		t.Fatalf("first get: %v", err)
	}

	src.set("EURUSD", 1.2000, 1.2002)
	clock.advance(5 * time.Second)

	q, err := cache.Get(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if q.Bid != 1.2000 {
		t.Fatalf("stale quote served after expiry: bid %v", q.Bid)
	}
	if n := src.calls["EURUSD"]; n != 2 {
		t.Fatalf("expected 2 fetches, got %d", n)
	}
}

func TestCacheZeroBidIsUnavailable(t *testing.T) {
	src := newFakeSource()
	src.set("EURUSD", 0, 1.1002)
	cache, _ := newTestCache(src, 5*time.Second)

	_, err := cache.Get(context.Background(), "EURUSD")
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("want ErrQuoteUnavailable, got %v", err)
	}
}

func TestCacheFetchFailureIsUnavailable(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("gateway timeout")
	cache, _ := newTestCache(src, 5*time.Second)

	_, err := cache.Get(context.Background(), "EURUSD")
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("want ErrQuoteUnavailable, got %v", err)
	}
}

func TestCacheFailedFetchIsNotCached(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("gateway timeout")
	cache, _ := newTestCache(src, 5*time.Second)

	_, _ = cache.Get(context.Background(), "EURUSD")

	src.err = nil
	src.set("EURUSD", 1.1000, 1.1002)

	q, err := cache.Get(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("get after recovery: %v", err)
	}
	if q.Bid != 1.1000 {
		t.Fatalf("unexpected bid %v", q.Bid)
	}
}

func TestCacheRejectsBadInstrument(t *testing.T) {
	src := newFakeSource()
	cache, _ := newTestCache(src, 5*time.Second)

	for _, pair := range []string{"", "EUR", "eurusd", "EURUSDX"} {
		if _, err := cache.Get(context.Background(), pair); !errors.Is(err, ErrQuoteUnavailable) {
			t.Fatalf("pair %q: want ErrQuoteUnavailable, got %v", pair, err)
		}
	}
	if len(src.calls) != 0 {
		t.Fatalf("bad instruments must not hit the source: %v", src.calls)
	}
}
