package market

import (
	"context"
	"errors"
	"fmt"
)

// Converter resolves cross-rates between a pair's quote currency and the
// account's settlement currency, chaining at most one extra quote lookup
// through the shared Cache.
type Converter struct {
	cache      *Cache
	settlement string
}

func NewConverter(cache *Cache, settlementCurrency string) *Converter {
	return &Converter{cache: cache, settlement: settlementCurrency}
}

func (c *Converter) Settlement() string { return c.settlement }

// Rate returns the multiplier that converts an amount denominated in
// quoteCurrency into the settlement currency. The direct pair
// settlement+quote (e.g. USD settlement, JPY amount -> "USDJPY") carries the
// rate as quote-per-settlement, so the amount divides by it; when only the
// inverse pair quote+settlement exists (EUR amount -> "EURUSD") the amount
// multiplies. BUY-side amounts convert on the bid, SELL-side on the ask.
func (c *Converter) Rate(ctx context.Context, quoteCurrency string, side Side) (float64, error) {
	if quoteCurrency == c.settlement {
		return 1.0, nil
	}

	direct := c.settlement + quoteCurrency
	if q, err := c.cache.Get(ctx, direct); err == nil {
		px := side.Price(q)
		if px <= 0 {
			return 0, fmt.Errorf("%w: %s %v price is zero", ErrConversionUnavailable, direct, side)
		}
		return 1.0 / px, nil
	} else if !errors.Is(err, ErrQuoteUnavailable) {
		return 0, fmt.Errorf("%w: %s: %v", ErrConversionUnavailable, direct, err)
	}

	inverse := quoteCurrency + c.settlement
	q, err := c.cache.Get(ctx, inverse)
	if err != nil {
		return 0, fmt.Errorf("%w: no usable cross pair for %s->%s: %v",
			ErrConversionUnavailable, quoteCurrency, c.settlement, err)
	}
	return side.Price(q), nil
}

// ToSettlement converts an amount denominated in quoteCurrency into the
// settlement currency. Conversion failure must abort the enclosing
// computation; a silent 1.0 fallback would corrupt equity figures.
func (c *Converter) ToSettlement(ctx context.Context, amount float64, quoteCurrency string, side Side) (float64, error) {
	rate, err := c.Rate(ctx, quoteCurrency, side)
	if err != nil {
		return 0, err
	}
	return amount * rate, nil
}
