// Package strategy defines the flat action list the decision collaborator
// hands the engine each cycle. The engine only executes these against the
// ledger; it never originates them.
package strategy

import (
	"context"
	"fmt"

	"github.com/rustyeddy/bridge/ledger"
)

// Kind is the verb+direction of one desired action.
type Kind int

const (
	OpenBuy Kind = iota
	OpenSell
	OpenBuyLimit
	OpenSellLimit
	OpenBuyStop
	OpenSellStop
	CloseBuy
	CloseSell
	ModifyBuy
	ModifySell
)

var kindNames = map[Kind]string{
	OpenBuy:       "OpenBuy",
	OpenSell:      "OpenSell",
	OpenBuyLimit:  "OpenBuyLimit",
	OpenSellLimit: "OpenSellLimit",
	OpenBuyStop:   "OpenBuyStop",
	OpenSellStop:  "OpenSellStop",
	CloseBuy:      "CloseBuy",
	CloseSell:     "CloseSell",
	ModifyBuy:     "ModifyBuy",
	ModifySell:    "ModifySell",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

var kindsByName = map[string]Kind{
	"open_buy":        OpenBuy,
	"open_sell":       OpenSell,
	"open_buy_limit":  OpenBuyLimit,
	"open_sell_limit": OpenSellLimit,
	"open_buy_stop":   OpenBuyStop,
	"open_sell_stop":  OpenSellStop,
	"close_buy":       CloseBuy,
	"close_sell":      CloseSell,
	"modify_buy":      ModifyBuy,
	"modify_sell":     ModifySell,
}

// ParseKind resolves the snake_case action names used in config files.
func ParseKind(s string) (Kind, error) {
	k, ok := kindsByName[s]
	if !ok {
		return 0, fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// IsOpen reports whether the action creates a virtual order.
func (k Kind) IsOpen() bool {
	switch k {
	case OpenBuy, OpenSell, OpenBuyLimit, OpenSellLimit, OpenBuyStop, OpenSellStop:
		return true
	}
	return false
}

func (k Kind) IsClose() bool  { return k == CloseBuy || k == CloseSell }
func (k Kind) IsModify() bool { return k == ModifyBuy || k == ModifySell }

// OrderType maps the action onto the ledger order type it targets.
func (k Kind) OrderType() ledger.OrderType {
	switch k {
	case OpenBuy, CloseBuy, ModifyBuy:
		return ledger.Buy
	case OpenSell, CloseSell, ModifySell:
		return ledger.Sell
	case OpenBuyLimit:
		return ledger.BuyLimit
	case OpenSellLimit:
		return ledger.SellLimit
	case OpenBuyStop:
		return ledger.BuyStop
	case OpenSellStop:
		return ledger.SellStop
	}
	return ledger.Buy
}

// Action is one desired signal. Price carries the trigger price for pending
// opens; zero on a market open means "at the current market". SLDistance
// and TPDistance are price distances, zero to disable.
type Action struct {
	Kind       Kind
	Instrument string
	Volume     float64
	Price      float64
	SLDistance float64
	TPDistance float64
}

// Source yields the desired actions for one strategy instance each cycle.
type Source interface {
	Actions(ctx context.Context, instanceID string) ([]Action, error)
}
