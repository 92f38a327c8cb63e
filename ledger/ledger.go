package ledger

import (
	"errors"
	"time"
)

var (
	// ErrOrderNotFound means a close or modify referenced a ticket or an
	// instance/type pair with no matching open order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrTicketCollision means ticket generation exhausted its retries.
	// Collisions against a ledger this small are vanishingly rare, so
	// exhaustion points at a corrupt or absurdly full ledger.
	ErrTicketCollision = errors.New("ticket collision retries exhausted")

	// ErrLedgerCorruption means an order was found in both sets or a
	// ticket is duplicated. The account must halt rather than guess which
	// copy is authoritative.
	ErrLedgerCorruption = errors.New("ledger corruption")
)

// Tickets are drawn uniformly from [0, TicketSpace).
const TicketSpace = 10_000_000

// maxTicketRetries bounds collision retries during OpenOrder.
const maxTicketRetries = 100

// OpenRequest describes a new virtual order. SLDistance and TPDistance are
// price distances from OpenPrice, not absolute levels; zero disables the
// respective protective level.
type OpenRequest struct {
	Volume     float64
	Type       OrderType
	Instrument string
	InstanceID string
	OpenTime   time.Time
	OpenPrice  float64
	SLDistance float64
	TPDistance float64
}

// Selector addresses open orders either by explicit ticket or by the owning
// instance and order type. The instance/type form matches the first open
// order in insertion order, an intentional "close any one matching" semantic
// for callers that do not track tickets.
type Selector struct {
	byTicket   bool
	ticket     int64
	instanceID string
	orderType  OrderType
}

func ByTicket(ticket int64) Selector {
	return Selector{byTicket: true, ticket: ticket}
}

func ByInstance(instanceID string, t OrderType) Selector {
	return Selector{instanceID: instanceID, orderType: t}
}

// Ledger stores open virtual orders and an append-only history of closed
// ones. Every ticket is unique across the union of both sets for the life
// of the ledger, and no order is ever in both.
type Ledger interface {
	// Open inserts a new order into the open set and returns its ticket.
	Open(req OpenRequest) (int64, error)

	// Close moves the selected order to history. RealizedProfit is the
	// order's accumulated floating profit; RealizedProfitRatio divides it
	// by balance at the moment of close.
	Close(sel Selector, closeTime time.Time, closePrice float64, balance float64) (Order, error)

	// Modify re-anchors protective levels on every order the selector
	// matches. Market orders anchor to referencePrice, pending orders to
	// their own stored open price. Returns the modified copies.
	Modify(sel Selector, slDistance, tpDistance, referencePrice float64) ([]Order, error)

	// UpdateProfit stores the latest floating P/L for an open order.
	UpdateProfit(ticket int64, profit float64) error

	// Lookup returns a copy of an open order by ticket.
	Lookup(ticket int64) (Order, bool)

	ListOpen(instanceID string) ([]Order, error)
	ListHistory(instanceID string) ([]Order, error)
	ListAllOpen() ([]Order, error)

	// PurgeOrphans deletes every open order whose owner is not in the
	// active set and returns what it removed, so the caller can log the
	// destruction.
	PurgeOrphans(activeInstanceIDs []string) ([]Order, error)
}

// EquitySnapshot is one per-cycle record of real and virtual account
// figures in the settlement currency.
type EquitySnapshot struct {
	RunID          string    `db:"run_id"`
	Time           time.Time `db:"time"`
	Balance        float64   `db:"balance"`
	Equity         float64   `db:"equity"`
	VirtualBalance float64   `db:"virtual_balance"`
	VirtualEquity  float64   `db:"virtual_equity"`
}

// EquityRecorder persists per-cycle equity snapshots.
type EquityRecorder interface {
	RecordEquity(EquitySnapshot) error
}
