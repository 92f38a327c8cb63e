package engine

import (
	"context"
	"fmt"

	"github.com/rustyeddy/bridge/ledger"
	"github.com/rustyeddy/bridge/market"
)

// PnL computes unrealized profit in the settlement currency and rolls it up
// into virtual balance/equity figures.
type PnL struct {
	quotes       *market.Cache
	converter    *market.Converter
	contractSize float64
}

func NewPnL(quotes *market.Cache, converter *market.Converter, contractSize float64) *PnL {
	if contractSize <= 0 {
		contractSize = market.DefaultContractSize
	}
	return &PnL{quotes: quotes, converter: converter, contractSize: contractSize}
}

// OrderProfit values one order against a quote snapshot: BUY marks on the
// bid, SELL on the ask, converted into the settlement currency via the
// pair's quote-side currency. Pending orders carry no floating profit.
func (p *PnL) OrderProfit(ctx context.Context, o ledger.Order, q market.Quote) (float64, error) {
	var raw float64
	var side market.Side

	switch o.Type {
	case ledger.Buy:
		raw = o.Volume * p.contractSize * (q.Bid - o.OpenPrice)
		side = market.BidSide
	case ledger.Sell:
		raw = o.Volume * p.contractSize * (o.OpenPrice - q.Ask)
		side = market.AskSide
	default:
		return 0, nil
	}

	profit, err := p.converter.ToSettlement(ctx, raw, market.QuoteCurrency(o.Instrument), side)
	if err != nil {
		return 0, fmt.Errorf("value order %d: %w", o.Ticket, err)
	}
	return profit, nil
}

// Recompute revalues every open order, writes the per-order floating profit
// back into the ledger and derives the virtual account figures from the
// broker-reported equity. Any quote or conversion failure aborts the whole
// pass; the previous cycle's figures remain authoritative.
func (p *PnL) Recompute(ctx context.Context, led ledger.Ledger, equity float64) (virtualBalance, virtualEquity float64, err error) {
	open, err := led.ListAllOpen()
	if err != nil {
		return 0, 0, err
	}

	var virtualOpenPL float64
	for _, o := range open {
		if o.Type.IsPending() {
			continue
		}

		q, err := p.quotes.Get(ctx, o.Instrument)
		if err != nil {
			return 0, 0, fmt.Errorf("revalue order %d: %w", o.Ticket, err)
		}

		profit, err := p.OrderProfit(ctx, o, q)
		if err != nil {
			return 0, 0, err
		}

		if err := led.UpdateProfit(o.Ticket, profit); err != nil {
			return 0, 0, err
		}
		virtualOpenPL += profit
	}

	virtualBalance = equity - virtualOpenPL
	virtualEquity = virtualBalance + virtualOpenPL
	return virtualBalance, virtualEquity, nil
}
