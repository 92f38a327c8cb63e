package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/bridge/events"
	"github.com/rustyeddy/bridge/ledger"
	"github.com/rustyeddy/bridge/market"
)

// TriggerEvaluator scans open orders against fresh quotes and fires pending
// conversions and protective exits. Each order is evaluated against one
// quote snapshot: the trigger check and the close price come from the same
// Quote, never a re-fetch.
type TriggerEvaluator struct {
	ledger ledger.Ledger
	quotes *market.Cache
	pnl    *PnL
	pub    events.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewTriggerEvaluator(led ledger.Ledger, quotes *market.Cache, pnl *PnL, pub events.Publisher, log *zap.Logger) *TriggerEvaluator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &TriggerEvaluator{
		ledger: led,
		quotes: quotes,
		pnl:    pnl,
		pub:    pub,
		log:    log,
		now:    time.Now,
	}
}

// Evaluate walks every open order once. Pending conversion is checked
// first; an order converted this cycle is not also checked for a protective
// exit, so a limit that lands inside its own stop region survives the
// cycle as a fresh market order.
func (t *TriggerEvaluator) Evaluate(ctx context.Context, balance float64) error {
	open, err := t.ledger.ListAllOpen()
	if err != nil {
		return err
	}

	for _, o := range open {
		q, err := t.quotes.Get(ctx, o.Instrument)
		if err != nil {
			if errors.Is(err, market.ErrQuoteUnavailable) {
				t.log.Warn("skipping order this cycle",
					zap.Int64("ticket", o.Ticket), zap.Error(err))
				continue
			}
			return err
		}

		if o.Type.IsPending() {
			if err := t.convertIfTriggered(ctx, o, q, balance); err != nil {
				return err
			}
			continue
		}

		if err := t.exitIfTriggered(ctx, o, q, balance); err != nil {
			return err
		}
	}
	return nil
}

func pendingTriggered(o ledger.Order, q market.Quote) bool {
	switch o.Type {
	case ledger.BuyLimit:
		return q.Ask < o.OpenPrice
	case ledger.BuyStop:
		return q.Ask > o.OpenPrice
	case ledger.SellLimit:
		return q.Bid > o.OpenPrice
	case ledger.SellStop:
		return q.Bid < o.OpenPrice
	}
	return false
}

// convertIfTriggered closes a fired pending order at the bid (bookkeeping
// only, the position continues) and reopens it as a market order anchored
// to the same trigger price with the original protective distances.
func (t *TriggerEvaluator) convertIfTriggered(ctx context.Context, o ledger.Order, q market.Quote, balance float64) error {
	if !pendingTriggered(o, q) {
		return nil
	}

	now := t.now()

	closed, err := t.ledger.Close(ledger.ByTicket(o.Ticket), now, q.Bid, balance)
	if err != nil {
		return err
	}
	if err := t.pub.OrderClosed(closed); err != nil {
		t.log.Warn("publish close", zap.Int64("ticket", closed.Ticket), zap.Error(err))
	}

	ticket, err := t.ledger.Open(ledger.OpenRequest{
		Volume:     o.Volume,
		Type:       o.Type.MarketType(),
		Instrument: o.Instrument,
		InstanceID: o.InstanceID,
		OpenTime:   now,
		OpenPrice:  o.OpenPrice,
		SLDistance: o.StopLossDistance(),
		TPDistance: o.TakeProfitDistance(),
	})
	if err != nil {
		return err
	}

	t.log.Info("pending order converted",
		zap.Int64("pending_ticket", o.Ticket),
		zap.Int64("market_ticket", ticket),
		zap.String("type", o.Type.String()),
		zap.String("instrument", o.Instrument),
		zap.Float64("trigger_price", o.OpenPrice),
	)

	if opened, ok := t.ledger.Lookup(ticket); ok {
		if err := t.pub.OrderOpened(opened); err != nil {
			t.log.Warn("publish open", zap.Int64("ticket", ticket), zap.Error(err))
		}
	}
	return nil
}

func (t *TriggerEvaluator) exitIfTriggered(ctx context.Context, o ledger.Order, q market.Quote, balance float64) error {
	var closePrice float64
	var reason string

	switch o.Type {
	case ledger.Buy:
		if o.StopLoss != 0 && q.Bid < o.StopLoss {
			closePrice, reason = q.Bid, "StopLoss"
		} else if o.TakeProfit != 0 && q.Bid > o.TakeProfit {
			closePrice, reason = q.Bid, "TakeProfit"
		}
	case ledger.Sell:
		if o.StopLoss != 0 && q.Ask > o.StopLoss {
			closePrice, reason = q.Ask, "StopLoss"
		} else if o.TakeProfit != 0 && q.Ask < o.TakeProfit {
			closePrice, reason = q.Ask, "TakeProfit"
		}
	}
	if reason == "" {
		return nil
	}

	// Refresh the floating profit from the triggering snapshot so the
	// realized figure reflects the price that fired the exit.
	profit, err := t.pnl.OrderProfit(ctx, o, q)
	if err != nil {
		if errors.Is(err, market.ErrConversionUnavailable) {
			t.log.Warn("conversion unavailable, exit deferred",
				zap.Int64("ticket", o.Ticket), zap.Error(err))
			return nil
		}
		return err
	}
	if err := t.ledger.UpdateProfit(o.Ticket, profit); err != nil {
		return err
	}

	closed, err := t.ledger.Close(ledger.ByTicket(o.Ticket), t.now(), closePrice, balance)
	if err != nil {
		return err
	}

	t.log.Info("protective exit",
		zap.Int64("ticket", closed.Ticket),
		zap.String("reason", reason),
		zap.String("instrument", closed.Instrument),
		zap.Float64("close_price", closePrice),
		zap.Float64("realized_profit", closed.RealizedProfit),
	)

	if err := t.pub.OrderClosed(closed); err != nil {
		t.log.Warn("publish close", zap.Int64("ticket", closed.Ticket), zap.Error(err))
	}
	return nil
}
