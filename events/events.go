// Package events publishes ledger activity for out-of-process consumers —
// the dashboard and the account monitor tail these instead of polling the
// ledger database.
package events

import "github.com/rustyeddy/bridge/ledger"

type Publisher interface {
	OrderOpened(o ledger.Order) error
	OrderClosed(o ledger.Order) error
	EquityUpdated(e ledger.EquitySnapshot) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) OrderOpened(ledger.Order) error            { return nil }
func (Nop) OrderClosed(ledger.Order) error            { return nil }
func (Nop) EquityUpdated(ledger.EquitySnapshot) error { return nil }
func (Nop) Close() error                              { return nil }
