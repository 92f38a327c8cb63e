// Package ledger is the durable record of virtual orders: simulated
// positions and pending instructions that the broker never sees, attributed
// to the strategy instance that opened them.
package ledger

import "time"

// OrderType tags an order as market vs pending and long vs short.
type OrderType int

const (
	Buy OrderType = iota
	Sell
	BuyLimit
	SellLimit
	BuyStop
	SellStop
)

var orderTypeNames = map[OrderType]string{
	Buy:       "BUY",
	Sell:      "SELL",
	BuyLimit:  "BUYLIMIT",
	SellLimit: "SELLLIMIT",
	BuyStop:   "BUYSTOP",
	SellStop:  "SELLSTOP",
}

func (t OrderType) String() string {
	if s, ok := orderTypeNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// IsLong reports whether the order belongs to the buy family.
func (t OrderType) IsLong() bool {
	return t == Buy || t == BuyLimit || t == BuyStop
}

// IsPending reports whether the order waits on a price trigger before it
// becomes a market position.
func (t OrderType) IsPending() bool {
	return t != Buy && t != Sell
}

// MarketType returns the market order type a pending order converts into.
func (t OrderType) MarketType() OrderType {
	if t.IsLong() {
		return Buy
	}
	return Sell
}

// Order is one virtual position or pending instruction. StopLoss and
// TakeProfit hold absolute prices, anchored at open time; zero means unset.
type Order struct {
	Ticket     int64     `db:"ticket"`
	InstanceID string    `db:"instance_id"`
	Type       OrderType `db:"type"`
	Instrument string    `db:"instrument"`
	Volume     float64   `db:"volume"`
	OpenTime   time.Time `db:"open_time"`
	OpenPrice  float64   `db:"open_price"`
	StopLoss   float64   `db:"stop_loss"`
	TakeProfit float64   `db:"take_profit"`

	// FloatingProfit is the latest unrealized P/L in the settlement
	// currency, rewritten every evaluation cycle.
	FloatingProfit float64 `db:"floating_profit"`

	// Set when the order moves to history.
	CloseTime           time.Time `db:"close_time"`
	ClosePrice          float64   `db:"close_price"`
	RealizedProfit      float64   `db:"realized_profit"`
	RealizedProfitRatio float64   `db:"realized_profit_ratio"`
}

// StopLossDistance recovers the distance the stop was anchored with. Zero
// means the stop is unset.
func (o Order) StopLossDistance() float64 {
	if o.StopLoss == 0 {
		return 0
	}
	if o.Type.IsLong() {
		return o.OpenPrice - o.StopLoss
	}
	return o.StopLoss - o.OpenPrice
}

// TakeProfitDistance recovers the distance the target was anchored with.
func (o Order) TakeProfitDistance() float64 {
	if o.TakeProfit == 0 {
		return 0
	}
	if o.Type.IsLong() {
		return o.TakeProfit - o.OpenPrice
	}
	return o.OpenPrice - o.TakeProfit
}

// anchorProtective turns distances into absolute stop/target prices around
// a reference price. A zero distance stores zero, i.e. disabled.
func anchorProtective(t OrderType, reference, slDistance, tpDistance float64) (stopLoss, takeProfit float64) {
	if t.IsLong() {
		stopLoss = reference - slDistance
		takeProfit = reference + tpDistance
	} else {
		stopLoss = reference + slDistance
		takeProfit = reference - tpDistance
	}
	if slDistance == 0 {
		stopLoss = 0
	}
	if tpDistance == 0 {
		takeProfit = 0
	}
	return stopLoss, takeProfit
}
