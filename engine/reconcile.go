package engine

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/bridge/broker"
	"github.com/rustyeddy/bridge/ledger"
)

// Reconciler aligns the ledger's ideal net exposure per instrument with the
// broker's actual holdings by submitting corrective real market orders.
// Volume arithmetic runs on decimals: summing lots like 0.1 and 0.2 in
// floats would leave residues that break reconciliation idempotency.
type Reconciler struct {
	ledger  ledger.Ledger
	gateway broker.Gateway
	log     *zap.Logger
}

func NewReconciler(led ledger.Ledger, gw broker.Gateway, log *zap.Logger) *Reconciler {
	return &Reconciler{ledger: led, gateway: gw, log: log}
}

// Reconcile corrects one instrument. Only market orders contribute to the
// ideal position; pending orders hold no exposure yet.
func (r *Reconciler) Reconcile(ctx context.Context, instrument string) error {
	open, err := r.ledger.ListAllOpen()
	if err != nil {
		return err
	}

	ideal := decimal.Zero
	for _, o := range open {
		if o.Instrument != instrument || o.Type.IsPending() {
			continue
		}
		vol := decimal.NewFromFloat(o.Volume)
		if o.Type == ledger.Sell {
			vol = vol.Neg()
		}
		ideal = ideal.Add(vol)
	}

	positions, err := r.gateway.BrokerPositions(ctx)
	if err != nil {
		return err
	}

	actual := decimal.Zero
	for _, p := range positions {
		if p.Instrument == instrument {
			actual = actual.Add(decimal.NewFromFloat(p.SignedVolume))
		}
	}

	delta := ideal.Sub(actual)
	if delta.IsZero() {
		return nil
	}

	side := broker.Buy
	if delta.IsNegative() {
		side = broker.Sell
	}
	volume, _ := delta.Abs().Float64()

	fill, err := r.gateway.ExecuteMarketOrder(ctx, instrument, volume, side)
	if err != nil {
		return err
	}

	r.log.Info("corrective order",
		zap.String("instrument", instrument),
		zap.String("side", side.String()),
		zap.Float64("volume", volume),
		zap.Float64("fill_price", fill.Price),
		zap.String("ideal", ideal.String()),
		zap.String("actual", actual.String()),
	)
	return nil
}

// ReconcileAll runs once per distinct instrument across all strategies —
// per account, not per strategy, so two strategies trading the same pair
// never provoke duplicate corrections. Instruments the broker holds but the
// ledger no longer tracks are included so stray exposure gets flattened.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	open, err := r.ledger.ListAllOpen()
	if err != nil {
		return err
	}
	positions, err := r.gateway.BrokerPositions(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for _, o := range open {
		seen[o.Instrument] = struct{}{}
	}
	for _, p := range positions {
		seen[p.Instrument] = struct{}{}
	}

	instruments := make([]string, 0, len(seen))
	for instrument := range seen {
		instruments = append(instruments, instrument)
	}
	sort.Strings(instruments)

	for _, instrument := range instruments {
		if err := r.Reconcile(ctx, instrument); err != nil {
			return err
		}
	}
	return nil
}
