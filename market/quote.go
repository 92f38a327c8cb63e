package market

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQuoteUnavailable means an instrument has no usable bid/ask right
	// now. Callers skip the affected order this cycle and retry on the next.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrConversionUnavailable means the cross-rate needed to express an
	// amount in the settlement currency could not be fetched.
	ErrConversionUnavailable = errors.New("conversion unavailable")
)

// Quote is a best bid/ask snapshot for one instrument.
type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	At         time.Time
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Side selects which side of a quote a computation values against.
type Side int

const (
	BidSide Side = iota
	AskSide
)

func (s Side) Price(q Quote) float64 {
	if s == AskSide {
		return q.Ask
	}
	return q.Bid
}

func (s Side) String() string {
	if s == AskSide {
		return "ask"
	}
	return "bid"
}

// QuoteSource supplies fresh quotes, typically a broker market-data client.
type QuoteSource interface {
	GetQuote(ctx context.Context, instrument string) (Quote, error)
}
