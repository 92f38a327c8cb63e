package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rustyeddy/bridge/broker"
	"github.com/rustyeddy/bridge/broker/sim"
	"github.com/rustyeddy/bridge/ledger"
	"github.com/rustyeddy/bridge/market"
	"github.com/rustyeddy/bridge/strategy"
)

func TestRunCycleAppliesActions(t *testing.T) {
	h := newHarness(t, 100000)
	ctx := context.Background()

	h.gw.SetQuote("EURUSD", 1.0998, 1.1000, h.now())

	err := h.eng.RunCycle(ctx, "s1", []strategy.Action{
		{Kind: strategy.OpenBuy, Instrument: "EURUSD", Volume: 1.0, SLDistance: 0.0100},
	})
	require.NoError(t, err)

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, ledger.Buy, open[0].Type)
	assert.Equal(t, 1.1000, open[0].OpenPrice, "market buys enter on the ask")
	assert.InDelta(t, 1.0900, open[0].StopLoss, 1e-9)

	// Reconciliation mirrored the virtual position at the broker.
	positions, err := h.gw.BrokerPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 1.0, positions[0].SignedVolume)

	snap := h.eng.Snapshot()
	assert.Equal(t, 100000.0, snap.Balance)
	// Floating loss is the spread; the virtual balance backs it out.
	assert.InDelta(t, 100020.0, snap.VirtualBalance, 1e-6)
	assert.InDelta(t, 100000.0, snap.VirtualEquity, 1e-6)

	// Close by instance and side, then flatten at the broker.
	h.tick()
	err = h.eng.RunCycle(ctx, "s1", []strategy.Action{
		{Kind: strategy.CloseBuy, Instrument: "EURUSD"},
	})
	require.NoError(t, err)

	open, err = h.led.ListAllOpen()
	require.NoError(t, err)
	assert.Empty(t, open)

	positions, err = h.gw.BrokerPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)

	hist, err := h.led.ListHistory("s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1.0998, hist[0].ClosePrice, "buys exit on the bid")
}

func TestRunCycleRevaluesAfterTriggers(t *testing.T) {
	h := newHarness(t, 100000)
	ctx := context.Background()

	// The stop fires this cycle; the snapshot and equity figures must
	// describe the book after the exit, not carry the closed order's
	// floating loss backed out of the virtual balance.
	h.openOrder(t, ledger.OpenRequest{Volume: 1.0, Type: ledger.Buy,
		Instrument: "EURUSD", InstanceID: "s1", OpenTime: h.now(),
		OpenPrice: 1.1000, SLDistance: 0.0020})
	h.gw.SetQuote("EURUSD", 1.0975, 1.0977, h.now())

	require.NoError(t, h.eng.RunCycle(ctx, "s1", nil))

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	require.Empty(t, open)

	snap := h.eng.Snapshot()
	assert.InDelta(t, 100000.0, snap.VirtualBalance, 1e-9)
	assert.InDelta(t, 100000.0, snap.VirtualEquity, 1e-9)
}

func TestRunCycleModifyAction(t *testing.T) {
	h := newHarness(t, 100000)
	ctx := context.Background()

	h.gw.SetQuote("EURUSD", 1.0998, 1.1000, h.now())
	h.openOrder(t, ledger.OpenRequest{Volume: 1.0, Type: ledger.Buy,
		Instrument: "EURUSD", InstanceID: "s1", OpenTime: h.now(), OpenPrice: 1.0950})

	err := h.eng.RunCycle(ctx, "s1", []strategy.Action{
		{Kind: strategy.ModifyBuy, Instrument: "EURUSD", SLDistance: 0.0020, TPDistance: 0.0040},
	})
	require.NoError(t, err)

	o, ok := h.led.Lookup(mustOnlyTicket(t, h.led))
	require.True(t, ok)
	// Market orders re-anchor to the current bid, not the open price.
	assert.InDelta(t, 1.0978, o.StopLoss, 1e-9)
	assert.InDelta(t, 1.1038, o.TakeProfit, 1e-9)
}

func mustOnlyTicket(t *testing.T, led ledger.Ledger) int64 {
	t.Helper()
	open, err := led.ListAllOpen()
	require.NoError(t, err)
	require.Len(t, open, 1)
	return open[0].Ticket
}

func TestRunCycleToleratesUnmatchedClose(t *testing.T) {
	h := newHarness(t, 100000)
	h.gw.SetQuote("EURUSD", 1.0998, 1.1000, h.now())

	err := h.eng.RunCycle(context.Background(), "s1", []strategy.Action{
		{Kind: strategy.CloseSell, Instrument: "EURUSD"},
	})
	assert.NoError(t, err, "a close that matches nothing is a no-op")
}

func TestRunCycleGuardRejectsConcurrentCycle(t *testing.T) {
	h := newHarness(t, 100000)
	h.gw.SetQuote("EURUSD", 1.0998, 1.1000, h.now())

	require.NoError(t, h.eng.begin())
	err := h.eng.RunCycle(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, ErrCycleInProgress)
}

func TestRunCycleGuardForceClearsWhenStale(t *testing.T) {
	h := newHarness(t, 100000)
	h.gw.SetQuote("EURUSD", 1.0998, 1.1000, h.now())

	require.NoError(t, h.eng.begin())
	h.clockT = h.clockT.Add(DefaultStaleAfter + time.Second)

	err := h.eng.RunCycle(context.Background(), "s1", nil)
	assert.NoError(t, err, "a guard older than the staleness window is cleared")
}

// corruptLedger reports a corrupted book from every scan.
type corruptLedger struct {
	*ledger.Memory
}

func (c corruptLedger) ListAllOpen() ([]ledger.Order, error) {
	return nil, ledger.ErrLedgerCorruption
}

func TestRunCycleHaltsOnLedgerCorruption(t *testing.T) {
	gw := sim.New(broker.Account{ID: "acct-1", Currency: "USD", Balance: 100000, Equity: 100000})
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gw.SetQuote("EURUSD", 1.0998, 1.1000, now)

	cache := market.NewCache(gw, 5*time.Second, market.WithClock(func() time.Time { return now }))
	conv := market.NewConverter(cache, "USD")

	eng, err := New(Params{
		Ledger:    corruptLedger{ledger.NewMemory()},
		Quotes:    cache,
		Converter: conv,
		Gateway:   gw,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)

	err = eng.RunCycle(context.Background(), "s1", nil)
	require.ErrorIs(t, err, ledger.ErrLedgerCorruption)

	// The account stays halted across cycles.
	err = eng.RunCycle(context.Background(), "s1", nil)
	assert.ErrorIs(t, err, ledger.ErrLedgerCorruption)
}

func TestPurgeOrphansRemovesDeconfiguredInstances(t *testing.T) {
	h := newHarness(t, 100000)

	h.openOrder(t, ledger.OpenRequest{Volume: 1.0, Type: ledger.Buy,
		Instrument: "EURUSD", InstanceID: "live", OpenTime: h.now(), OpenPrice: 1.1000})
	h.openOrder(t, ledger.OpenRequest{Volume: 1.0, Type: ledger.SellStop,
		Instrument: "GBPUSD", InstanceID: "retired", OpenTime: h.now(), OpenPrice: 1.2400})

	require.NoError(t, h.eng.PurgeOrphans([]string{"live"}))

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "live", open[0].InstanceID)
}
