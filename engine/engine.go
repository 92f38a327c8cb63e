// Package engine drives one evaluation cycle per strategy instance: execute
// the strategy's desired actions against the virtual ledger, fire pending
// and protective triggers, revalue floating profit, then reconcile the
// aggregate simulated exposure against the broker's actual holdings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/bridge/broker"
	"github.com/rustyeddy/bridge/events"
	"github.com/rustyeddy/bridge/internal/id"
	"github.com/rustyeddy/bridge/ledger"
	"github.com/rustyeddy/bridge/market"
	"github.com/rustyeddy/bridge/strategy"
)

// ErrCycleInProgress means another cycle for this account is still running
// and its guard has not gone stale yet.
var ErrCycleInProgress = errors.New("evaluation cycle already in progress")

// DefaultStaleAfter force-clears a cycle guard stuck by a crashed or hung
// run, after this long.
const DefaultStaleAfter = 5 * time.Minute

// AccountSnapshot is the read-only view exposed to reporting collaborators.
type AccountSnapshot struct {
	Balance            float64
	Equity             float64
	VirtualBalance     float64
	VirtualEquity      float64
	SettlementCurrency string
	At                 time.Time
}

// Params wires an Engine. Ledger, Quotes, Converter, Gateway and Logger are
// required; the rest have working defaults.
type Params struct {
	Ledger       ledger.Ledger
	Quotes       *market.Cache
	Converter    *market.Converter
	Gateway      broker.Gateway
	Publisher    events.Publisher
	Equity       ledger.EquityRecorder
	ContractSize float64
	StaleAfter   time.Duration
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Engine owns the shared mutable state of one account: the ledger, the
// quote cache and the virtual account figures. At most one evaluation cycle
// per account runs at a time.
type Engine struct {
	ledger    ledger.Ledger
	quotes    *market.Cache
	converter *market.Converter
	gateway   broker.Gateway
	pub       events.Publisher
	equity    ledger.EquityRecorder
	pnl       *PnL
	triggers  *TriggerEvaluator
	recon     *Reconciler
	log       *zap.Logger
	now       func() time.Time

	guardMu    sync.Mutex
	running    bool
	startedAt  time.Time
	staleAfter time.Duration
	halted     error

	snapMu sync.RWMutex
	snap   AccountSnapshot
}

func New(p Params) (*Engine, error) {
	if p.Ledger == nil || p.Quotes == nil || p.Converter == nil || p.Gateway == nil {
		return nil, fmt.Errorf("engine: ledger, quotes, converter and gateway are required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("engine: logger is required")
	}
	if p.Publisher == nil {
		p.Publisher = events.Nop{}
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = DefaultStaleAfter
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}

	pnl := NewPnL(p.Quotes, p.Converter, p.ContractSize)
	e := &Engine{
		ledger:     p.Ledger,
		quotes:     p.Quotes,
		converter:  p.Converter,
		gateway:    p.Gateway,
		pub:        p.Publisher,
		equity:     p.Equity,
		pnl:        pnl,
		log:        p.Logger,
		now:        p.Clock,
		staleAfter: p.StaleAfter,
		snap:       AccountSnapshot{SettlementCurrency: p.Converter.Settlement()},
	}
	e.triggers = NewTriggerEvaluator(p.Ledger, p.Quotes, pnl, p.Publisher, p.Logger)
	e.triggers.now = p.Clock
	e.recon = NewReconciler(p.Ledger, p.Gateway, p.Logger)
	return e, nil
}

// RunCycle executes one evaluation cycle for a strategy instance. Transient
// quote/conversion failures degrade gracefully: the affected step is
// skipped and retried next cycle. A ledger invariant violation halts the
// account for good.
func (e *Engine) RunCycle(ctx context.Context, instanceID string, actions []strategy.Action) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	runID := id.New()
	log := e.log.With(zap.String("run_id", runID), zap.String("instance", instanceID))

	balance, equity, err := e.accountFigures(ctx)
	if err != nil {
		log.Warn("account state unavailable, cycle skipped", zap.Error(err))
		return err
	}

	for _, a := range actions {
		if err := e.applyAction(ctx, log, instanceID, a, balance); err != nil {
			if e.fatal(err) {
				return err
			}
			log.Warn("action skipped", zap.String("kind", a.Kind.String()), zap.Error(err))
		}
	}

	if err := e.triggers.Evaluate(ctx, balance); err != nil {
		if e.fatal(err) {
			return err
		}
		log.Warn("trigger evaluation aborted", zap.Error(err))
	}

	// Revalue after the triggers so the published figures reflect the
	// post-trigger book: an order closed this cycle must not leave its
	// floating profit backed out of the virtual balance.
	virtualBalance, virtualEquity := e.lastVirtualFigures()
	vb, ve, err := e.pnl.Recompute(ctx, e.ledger, equity)
	if err != nil {
		if e.fatal(err) {
			return err
		}
		// Previous cycle's figures remain authoritative.
		log.Warn("floating P/L recompute aborted", zap.Error(err))
	} else {
		virtualBalance, virtualEquity = vb, ve
	}

	if err := e.recon.ReconcileAll(ctx); err != nil {
		if e.fatal(err) {
			return err
		}
		log.Warn("reconciliation incomplete", zap.Error(err))
	}

	now := e.now()
	e.snapMu.Lock()
	e.snap = AccountSnapshot{
		Balance:            balance,
		Equity:             equity,
		VirtualBalance:     virtualBalance,
		VirtualEquity:      virtualEquity,
		SettlementCurrency: e.converter.Settlement(),
		At:                 now,
	}
	e.snapMu.Unlock()

	rec := ledger.EquitySnapshot{
		RunID:          runID,
		Time:           now,
		Balance:        balance,
		Equity:         equity,
		VirtualBalance: virtualBalance,
		VirtualEquity:  virtualEquity,
	}
	if e.equity != nil {
		if err := e.equity.RecordEquity(rec); err != nil {
			log.Warn("record equity", zap.Error(err))
		}
	}
	if err := e.pub.EquityUpdated(rec); err != nil {
		log.Warn("publish equity", zap.Error(err))
	}

	log.Debug("cycle done",
		zap.Float64("balance", balance),
		zap.Float64("virtual_balance", virtualBalance),
		zap.Float64("virtual_equity", virtualEquity),
	)
	return nil
}

// Snapshot is safe to call at any time without disturbing engine state.
func (e *Engine) Snapshot() AccountSnapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

// PurgeOrphans removes open orders owned by deconfigured strategy
// instances, logging every destroyed order.
func (e *Engine) PurgeOrphans(activeInstanceIDs []string) error {
	removed, err := e.ledger.PurgeOrphans(activeInstanceIDs)
	for _, o := range removed {
		e.log.Warn("purged orphaned order",
			zap.Int64("ticket", o.Ticket),
			zap.String("instance", o.InstanceID),
			zap.String("type", o.Type.String()),
			zap.String("instrument", o.Instrument),
			zap.Float64("volume", o.Volume),
		)
	}
	return err
}

func (e *Engine) begin() error {
	e.guardMu.Lock()
	defer e.guardMu.Unlock()

	if e.halted != nil {
		return e.halted
	}

	now := e.now()
	if e.running {
		if now.Sub(e.startedAt) < e.staleAfter {
			return ErrCycleInProgress
		}
		e.log.Warn("force-clearing stale cycle guard",
			zap.Time("started_at", e.startedAt),
			zap.Duration("age", now.Sub(e.startedAt)),
		)
	}
	e.running = true
	e.startedAt = now
	return nil
}

func (e *Engine) end() {
	e.guardMu.Lock()
	e.running = false
	e.guardMu.Unlock()
}

// fatal marks the account halted on ledger corruption; everything else is
// retryable.
func (e *Engine) fatal(err error) bool {
	if !errors.Is(err, ledger.ErrLedgerCorruption) {
		return false
	}
	e.guardMu.Lock()
	e.halted = err
	e.guardMu.Unlock()
	e.log.Error("ledger corruption, account halted", zap.Error(err))
	return true
}

// accountFigures fetches broker balance/equity and expresses them in the
// settlement currency when the broker reports in something else.
func (e *Engine) accountFigures(ctx context.Context) (balance, equity float64, err error) {
	acct, err := e.gateway.AccountState(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("account state: %w", err)
	}

	balance, equity = acct.Balance, acct.Equity
	if acct.Currency != "" && acct.Currency != e.converter.Settlement() {
		balance, err = e.converter.ToSettlement(ctx, balance, acct.Currency, market.BidSide)
		if err != nil {
			return 0, 0, err
		}
		equity, err = e.converter.ToSettlement(ctx, equity, acct.Currency, market.BidSide)
		if err != nil {
			return 0, 0, err
		}
	}
	return balance, equity, nil
}

func (e *Engine) lastVirtualFigures() (virtualBalance, virtualEquity float64) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap.VirtualBalance, e.snap.VirtualEquity
}

func (e *Engine) applyAction(ctx context.Context, log *zap.Logger, instanceID string, a strategy.Action, balance float64) error {
	t := a.Kind.OrderType()

	switch {
	case a.Kind.IsOpen():
		price := a.Price
		if !t.IsPending() && price == 0 {
			q, err := e.quotes.Get(ctx, a.Instrument)
			if err != nil {
				return err
			}
			if t == ledger.Buy {
				price = q.Ask
			} else {
				price = q.Bid
			}
		}

		ticket, err := e.ledger.Open(ledger.OpenRequest{
			Volume:     a.Volume,
			Type:       t,
			Instrument: a.Instrument,
			InstanceID: instanceID,
			OpenTime:   e.now(),
			OpenPrice:  price,
			SLDistance: a.SLDistance,
			TPDistance: a.TPDistance,
		})
		if err != nil {
			return err
		}
		log.Info("virtual order opened",
			zap.Int64("ticket", ticket),
			zap.String("type", t.String()),
			zap.String("instrument", a.Instrument),
			zap.Float64("volume", a.Volume),
			zap.Float64("price", price),
		)
		if opened, ok := e.ledger.Lookup(ticket); ok {
			if err := e.pub.OrderOpened(opened); err != nil {
				log.Warn("publish open", zap.Int64("ticket", ticket), zap.Error(err))
			}
		}
		return nil

	case a.Kind.IsClose():
		q, err := e.quotes.Get(ctx, a.Instrument)
		if err != nil {
			return err
		}
		closePrice := q.Bid
		if t == ledger.Sell {
			closePrice = q.Ask
		}

		closed, err := e.ledger.Close(ledger.ByInstance(instanceID, t), e.now(), closePrice, balance)
		if err != nil {
			if errors.Is(err, ledger.ErrOrderNotFound) {
				log.Warn("close matched nothing",
					zap.String("type", t.String()), zap.String("instrument", a.Instrument))
				return nil
			}
			return err
		}
		log.Info("virtual order closed",
			zap.Int64("ticket", closed.Ticket),
			zap.String("type", t.String()),
			zap.Float64("close_price", closePrice),
			zap.Float64("realized_profit", closed.RealizedProfit),
		)
		if err := e.pub.OrderClosed(closed); err != nil {
			log.Warn("publish close", zap.Int64("ticket", closed.Ticket), zap.Error(err))
		}
		return nil

	case a.Kind.IsModify():
		q, err := e.quotes.Get(ctx, a.Instrument)
		if err != nil {
			return err
		}
		reference := q.Bid
		if t == ledger.Sell {
			reference = q.Ask
		}

		modified, err := e.ledger.Modify(ledger.ByInstance(instanceID, t), a.SLDistance, a.TPDistance, reference)
		if err != nil {
			if errors.Is(err, ledger.ErrOrderNotFound) {
				log.Warn("modify matched nothing",
					zap.String("type", t.String()), zap.String("instrument", a.Instrument))
				return nil
			}
			return err
		}
		for _, o := range modified {
			log.Info("virtual order modified",
				zap.Int64("ticket", o.Ticket),
				zap.Float64("stop_loss", o.StopLoss),
				zap.Float64("take_profit", o.TakeProfit),
			)
		}
		return nil
	}
	return fmt.Errorf("unknown action kind %d", a.Kind)
}
