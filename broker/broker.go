// Package broker declares the narrow interfaces the engine consumes from a
// real execution venue. The engine never speaks any broker protocol itself.
package broker

import (
	"context"

	"github.com/rustyeddy/bridge/market"
)

// Side is the direction of a real market order.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Account is the broker-reported account state in the broker's own
// denomination currency.
type Account struct {
	ID       string
	Currency string
	Balance  float64
	Equity   float64
}

// Position is one broker-side holding. SignedVolume is positive for long
// exposure, negative for short, in lots.
type Position struct {
	Instrument   string
	SignedVolume float64
}

// Fill reports the execution of a real market order.
type Fill struct {
	Instrument string
	Volume     float64
	Side       Side
	Price      float64
}

// Gateway executes real market orders and reports actual holdings. Blocking
// calls honor the context deadline; a timed-out call is treated as failed,
// not retried.
type Gateway interface {
	ExecuteMarketOrder(ctx context.Context, instrument string, volume float64, side Side) (Fill, error)
	BrokerPositions(ctx context.Context) ([]Position, error)
	AccountState(ctx context.Context) (Account, error)
}

// MarketData supplies best bid/ask quotes.
type MarketData = market.QuoteSource
