package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/bridge/ledger"
	"github.com/rustyeddy/bridge/market"
)

func TestStopLossExitScenario(t *testing.T) {
	h := newHarness(t, 100000)
	ev := h.evaluator()

	h.openOrder(t, ledger.OpenRequest{
		Volume: 1.0, Type: ledger.Buy, Instrument: "EURUSD",
		InstanceID: "s1", OpenTime: h.now(), OpenPrice: 1.1000,
		SLDistance: 0.0020, // stop at 1.0980
	})

	h.gw.SetQuote("EURUSD", 1.0975, 1.0977, h.now())
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	assert.Empty(t, open)

	hist, err := h.led.ListHistory("s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)

	closed := hist[0]
	assert.Equal(t, 1.0975, closed.ClosePrice)
	assert.InDelta(t, -250.0, closed.RealizedProfit, 1e-9)
	assert.InDelta(t, -250.0/100000, closed.RealizedProfitRatio, 1e-12)
}

func TestTakeProfitExitSellClosesOnAsk(t *testing.T) {
	h := newHarness(t, 100000)
	ev := h.evaluator()

	h.openOrder(t, ledger.OpenRequest{
		Volume: 1.0, Type: ledger.Sell, Instrument: "EURUSD",
		InstanceID: "s1", OpenTime: h.now(), OpenPrice: 1.1000,
		TPDistance: 0.0050, // target at 1.0950
	})

	h.gw.SetQuote("EURUSD", 1.0944, 1.0946, h.now())
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	hist, err := h.led.ListHistory("s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 1.0946, hist[0].ClosePrice)
	assert.InDelta(t, 1.0*100000*(1.1000-1.0946), hist[0].RealizedProfit, 1e-6)
}

func TestNoExitInsideProtectiveBand(t *testing.T) {
	h := newHarness(t, 100000)
	ev := h.evaluator()

	h.openOrder(t, ledger.OpenRequest{
		Volume: 1.0, Type: ledger.Buy, Instrument: "EURUSD",
		InstanceID: "s1", OpenTime: h.now(), OpenPrice: 1.1000,
		SLDistance: 0.0020, TPDistance: 0.0040,
	})

	h.gw.SetQuote("EURUSD", 1.1010, 1.1012, h.now())
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestPendingConversionBeatsProtectiveExit(t *testing.T) {
	h := newHarness(t, 100000)
	ev := h.evaluator()

	// A BUYLIMIT at 1.2000 whose stop region (below 1.1700) already
	// contains the current price: it must convert, not convert-and-close.
	pending := h.openOrder(t, ledger.OpenRequest{
		Volume: 1.0, Type: ledger.BuyLimit, Instrument: "EURUSD",
		InstanceID: "s1", OpenTime: h.now(), OpenPrice: 1.2000,
		SLDistance: 0.0300, TPDistance: 0.0500,
	})

	h.gw.SetQuote("EURUSD", 1.1498, 1.1500, h.now())
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	require.Len(t, open, 1, "converted market order survives the cycle")

	converted := open[0]
	assert.Equal(t, ledger.Buy, converted.Type)
	assert.Equal(t, "s1", converted.InstanceID)
	assert.Equal(t, 1.0, converted.Volume)
	assert.Equal(t, 1.2000, converted.OpenPrice, "trigger price stays the anchor")
	assert.InDelta(t, 1.1700, converted.StopLoss, 1e-9)
	assert.InDelta(t, 1.2500, converted.TakeProfit, 1e-9)
	assert.NotEqual(t, pending, converted.Ticket)

	// The pending order's bookkeeping close carries no P/L.
	hist, err := h.led.ListHistory("s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, pending, hist[0].Ticket)
	assert.Equal(t, 1.1498, hist[0].ClosePrice)
	assert.Zero(t, hist[0].RealizedProfit)

	// The next cycle applies the protective check to the now-market order.
	h.tick()
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	open, err = h.led.ListAllOpen()
	require.NoError(t, err)
	assert.Empty(t, open, "stop-loss fires one cycle after conversion")
}

func TestPendingTriggerConditions(t *testing.T) {
	tests := []struct {
		name string
		typ  ledger.OrderType
		bid  float64
		ask  float64
		want bool
	}{
		{"buy limit fires below", ledger.BuyLimit, 1.0898, 1.0900, true},
		{"buy limit holds above", ledger.BuyLimit, 1.1098, 1.1100, false},
		{"buy stop fires above", ledger.BuyStop, 1.1098, 1.1100, true},
		{"buy stop holds below", ledger.BuyStop, 1.0898, 1.0900, false},
		{"sell limit fires above", ledger.SellLimit, 1.1100, 1.1102, true},
		{"sell limit holds below", ledger.SellLimit, 1.0900, 1.0902, false},
		{"sell stop fires below", ledger.SellStop, 1.0900, 1.0902, true},
		{"sell stop holds above", ledger.SellStop, 1.1100, 1.1102, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := ledger.Order{Type: tt.typ, OpenPrice: 1.1000}
			q := market.Quote{Bid: tt.bid, Ask: tt.ask}
			assert.Equal(t, tt.want, pendingTriggered(o, q))
		})
	}
}

func TestPendingTriggerAtThresholdHolds(t *testing.T) {
	// Strict comparisons: exactly-at-price does not fire.
	o := ledger.Order{Type: ledger.BuyLimit, OpenPrice: 1.1000}
	assert.False(t, pendingTriggered(o, market.Quote{Bid: 1.0998, Ask: 1.1000}))
}

func TestEvaluateSkipsOrderWithoutQuote(t *testing.T) {
	h := newHarness(t, 100000)
	ev := h.evaluator()

	h.openOrder(t, ledger.OpenRequest{
		Volume: 1.0, Type: ledger.Buy, Instrument: "GBPUSD",
		InstanceID: "s1", OpenTime: h.now(), OpenPrice: 1.2500,
		SLDistance: 0.0010,
	})
	h.openOrder(t, ledger.OpenRequest{
		Volume: 1.0, Type: ledger.Buy, Instrument: "EURUSD",
		InstanceID: "s1", OpenTime: h.now(), OpenPrice: 1.1000,
		SLDistance: 0.0020,
	})

	// Only EURUSD quotes; the GBPUSD order is skipped, not fatal.
	h.gw.SetQuote("EURUSD", 1.0975, 1.0977, h.now())
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "GBPUSD", open[0].Instrument)
}

func TestExitDeferredWhenConversionUnavailable(t *testing.T) {
	h := newHarness(t, 100000)
	ev := h.evaluator()

	// EURJPY stop is breached but JPY cannot convert to USD: the exit
	// waits for the cross-rate instead of closing with a bogus figure.
	h.openOrder(t, ledger.OpenRequest{
		Volume: 1.0, Type: ledger.Buy, Instrument: "EURJPY",
		InstanceID: "s1", OpenTime: h.now(), OpenPrice: 160.00,
		SLDistance: 0.50,
	})

	h.gw.SetQuote("EURJPY", 159.40, 159.44, h.now())
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	open, err := h.led.ListAllOpen()
	require.NoError(t, err)
	assert.Len(t, open, 1)

	// Once the cross quotes, the exit goes through.
	h.gw.SetQuote("USDJPY", 150.00, 150.04, h.now())
	h.tick()
	require.NoError(t, ev.Evaluate(context.Background(), 100000))

	open, err = h.led.ListAllOpen()
	require.NoError(t, err)
	assert.Empty(t, open)
}
