// Package sim is an in-process stand-in for a real broker: a settable quote
// board plus a gateway whose fills accumulate into broker-side positions.
// It backs dry runs and the engine's own tests.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/bridge/broker"
	"github.com/rustyeddy/bridge/market"
)

type Sim struct {
	mu        sync.Mutex
	acct      broker.Account
	quotes    map[string]market.Quote
	positions map[string]float64
	fills     []broker.Fill
}

func New(acct broker.Account) *Sim {
	return &Sim{
		acct:      acct,
		quotes:    make(map[string]market.Quote),
		positions: make(map[string]float64),
	}
}

// SetQuote publishes a bid/ask for an instrument.
func (s *Sim) SetQuote(instrument string, bid, ask float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[instrument] = market.Quote{Instrument: instrument, Bid: bid, Ask: ask, At: at}
}

func (s *Sim) GetQuote(ctx context.Context, instrument string) (market.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[instrument]
	if !ok {
		return market.Quote{}, fmt.Errorf("no quote for %s", instrument)
	}
	return q, nil
}

func (s *Sim) ExecuteMarketOrder(ctx context.Context, instrument string, volume float64, side broker.Side) (broker.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotes[instrument]
	if !ok {
		return broker.Fill{}, fmt.Errorf("no quote for %s", instrument)
	}

	// Buys fill on the ask, sells on the bid.
	price := q.Ask
	signed := volume
	if side == broker.Sell {
		price = q.Bid
		signed = -volume
	}

	s.positions[instrument] += signed
	fill := broker.Fill{Instrument: instrument, Volume: volume, Side: side, Price: price}
	s.fills = append(s.fills, fill)
	return fill, nil
}

func (s *Sim) BrokerPositions(ctx context.Context) ([]broker.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]broker.Position, 0, len(s.positions))
	for instrument, vol := range s.positions {
		if vol == 0 {
			continue
		}
		out = append(out, broker.Position{Instrument: instrument, SignedVolume: vol})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

func (s *Sim) AccountState(ctx context.Context) (broker.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acct, nil
}

// SetAccount replaces the reported account state.
func (s *Sim) SetAccount(acct broker.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acct = acct
}

// Fills returns every fill executed so far, oldest first.
func (s *Sim) Fills() []broker.Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]broker.Fill, len(s.fills))
	copy(out, s.fills)
	return out
}
