package engine

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/bridge/broker"
	"github.com/rustyeddy/bridge/broker/sim"
	"github.com/rustyeddy/bridge/ledger"
	"github.com/rustyeddy/bridge/market"
)

// harness wires an engine against the simulated broker with a controllable
// clock so tests can expire the quote cache deterministically.
type harness struct {
	gw     *sim.Sim
	led    *ledger.Memory
	cache  *market.Cache
	conv   *market.Converter
	pnl    *PnL
	eng    *Engine
	clockT time.Time
}

func newHarness(t *testing.T, balance float64) *harness {
	t.Helper()

	h := &harness{
		clockT: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	h.gw = sim.New(broker.Account{
		ID:       "acct-1",
		Currency: "USD",
		Balance:  balance,
		Equity:   balance,
	})
	h.led = ledger.NewMemory()
	h.cache = market.NewCache(h.gw, 5*time.Second, market.WithClock(h.now))
	h.conv = market.NewConverter(h.cache, "USD")
	h.pnl = NewPnL(h.cache, h.conv, market.DefaultContractSize)

	eng, err := New(Params{
		Ledger:    h.led,
		Quotes:    h.cache,
		Converter: h.conv,
		Gateway:   h.gw,
		Logger:    zap.NewNop(),
		Clock:     h.now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.eng = eng
	return h
}

func (h *harness) now() time.Time { return h.clockT }

// tick advances past the quote TTL so the next lookup refetches.
func (h *harness) tick() { h.clockT = h.clockT.Add(6 * time.Second) }

func (h *harness) openOrder(t *testing.T, req ledger.OpenRequest) int64 {
	t.Helper()
	ticket, err := h.led.Open(req)
	if err != nil {
		t.Fatalf("open order: %v", err)
	}
	return ticket
}

func (h *harness) evaluator() *TriggerEvaluator {
	ev := NewTriggerEvaluator(h.led, h.cache, h.pnl, nil, zap.NewNop())
	ev.now = h.now
	return ev
}
