package ledger

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Memory is the in-memory Ledger: a map keyed by ticket plus an insertion
// order, so instance/type selectors resolve deterministically to the oldest
// matching order. Mutations are atomic at single-order granularity behind
// one RWMutex, so readers never observe an order in neither or both sets.
type Memory struct {
	mu      sync.RWMutex
	open    map[int64]*Order
	seq     []int64 // open tickets, insertion order
	history []Order
	used    map[int64]struct{} // every ticket ever issued, open or closed

	tickets func() int64
}

type MemoryOption func(*Memory)

// WithTicketSource overrides the random ticket candidate generator.
func WithTicketSource(next func() int64) MemoryOption {
	return func(m *Memory) { m.tickets = next }
}

func NewMemory(opts ...MemoryOption) *Memory {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	m := &Memory{
		open:    make(map[int64]*Order),
		used:    make(map[int64]struct{}),
		tickets: func() int64 { return rng.Int63n(TicketSpace) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// newMemoryFrom seeds a Memory from previously persisted sets, refusing any
// state that violates the ticket invariants.
func newMemoryFrom(open, history []Order, opts ...MemoryOption) (*Memory, error) {
	m := NewMemory(opts...)
	for _, o := range history {
		if _, dup := m.used[o.Ticket]; dup {
			return nil, fmt.Errorf("%w: duplicate ticket %d in history", ErrLedgerCorruption, o.Ticket)
		}
		m.used[o.Ticket] = struct{}{}
		m.history = append(m.history, o)
	}
	for i := range open {
		o := open[i]
		if _, dup := m.open[o.Ticket]; dup {
			return nil, fmt.Errorf("%w: duplicate ticket %d in open set", ErrLedgerCorruption, o.Ticket)
		}
		if _, closed := m.used[o.Ticket]; closed {
			return nil, fmt.Errorf("%w: ticket %d present in both open and history", ErrLedgerCorruption, o.Ticket)
		}
		m.used[o.Ticket] = struct{}{}
		m.open[o.Ticket] = &o
		m.seq = append(m.seq, o.Ticket)
	}
	return m, nil
}

func (m *Memory) Open(req OpenRequest) (int64, error) {
	if req.Volume <= 0 {
		return 0, fmt.Errorf("open order: volume must be positive, got %v", req.Volume)
	}
	if req.InstanceID == "" {
		return 0, fmt.Errorf("open order: instance id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ticket, err := m.nextTicketLocked()
	if err != nil {
		return 0, err
	}

	stopLoss, takeProfit := anchorProtective(req.Type, req.OpenPrice, req.SLDistance, req.TPDistance)

	o := &Order{
		Ticket:     ticket,
		InstanceID: req.InstanceID,
		Type:       req.Type,
		Instrument: req.Instrument,
		Volume:     req.Volume,
		OpenTime:   req.OpenTime,
		OpenPrice:  req.OpenPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	}
	m.open[ticket] = o
	m.seq = append(m.seq, ticket)
	m.used[ticket] = struct{}{}
	return ticket, nil
}

// nextTicketLocked draws candidates until one is unique against both sets.
// Collisions are improbable but checked, never assumed away.
func (m *Memory) nextTicketLocked() (int64, error) {
	for i := 0; i < maxTicketRetries; i++ {
		t := m.tickets()
		if _, taken := m.used[t]; !taken {
			return t, nil
		}
	}
	return 0, ErrTicketCollision
}

func (m *Memory) Close(sel Selector, closeTime time.Time, closePrice float64, balance float64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.findLocked(sel)
	if err != nil {
		return Order{}, err
	}

	closed := *o
	closed.CloseTime = closeTime
	closed.ClosePrice = closePrice
	closed.RealizedProfit = closed.FloatingProfit
	if balance != 0 {
		closed.RealizedProfitRatio = closed.RealizedProfit / balance
	}

	delete(m.open, closed.Ticket)
	m.removeSeqLocked(closed.Ticket)
	m.history = append(m.history, closed)
	return closed, nil
}

func (m *Memory) Modify(sel Selector, slDistance, tpDistance, referencePrice float64) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matches := m.matchLocked(sel)
	if len(matches) == 0 {
		return nil, selectorNotFound(sel)
	}

	out := make([]Order, 0, len(matches))
	for _, o := range matches {
		anchor := referencePrice
		if o.Type.IsPending() {
			anchor = o.OpenPrice
		}
		o.StopLoss, o.TakeProfit = anchorProtective(o.Type, anchor, slDistance, tpDistance)
		out = append(out, *o)
	}
	return out, nil
}

func (m *Memory) UpdateProfit(ticket int64, profit float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.open[ticket]
	if !ok {
		return fmt.Errorf("%w: ticket %d", ErrOrderNotFound, ticket)
	}
	o.FloatingProfit = profit
	return nil
}

// Lookup returns a copy of an open order by ticket.
func (m *Memory) Lookup(ticket int64) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.open[ticket]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (m *Memory) ListOpen(instanceID string) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Order
	for _, ticket := range m.seq {
		o := m.open[ticket]
		if o.InstanceID == instanceID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *Memory) ListAllOpen() ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Order, 0, len(m.seq))
	for _, ticket := range m.seq {
		out = append(out, *m.open[ticket])
	}
	return out, nil
}

// ListHistory returns closed orders for one instance, oldest first. An
// empty instance id returns the whole history.
func (m *Memory) ListHistory(instanceID string) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Order
	for _, o := range m.history {
		if instanceID == "" || o.InstanceID == instanceID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Memory) PurgeOrphans(activeInstanceIDs []string) ([]Order, error) {
	active := make(map[string]struct{}, len(activeInstanceIDs))
	for _, id := range activeInstanceIDs {
		active[id] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed []Order
	keep := m.seq[:0]
	for _, ticket := range m.seq {
		o := m.open[ticket]
		if _, ok := active[o.InstanceID]; ok {
			keep = append(keep, ticket)
			continue
		}
		removed = append(removed, *o)
		delete(m.open, ticket)
	}
	m.seq = keep
	return removed, nil
}

// memState is a deep copy of the book, taken before a mutation whose
// write-through persist may fail.
type memState struct {
	open    map[int64]*Order
	seq     []int64
	history []Order
	used    map[int64]struct{}
}

func (m *Memory) snapshot() memState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := memState{
		open:    make(map[int64]*Order, len(m.open)),
		seq:     append([]int64(nil), m.seq...),
		history: append([]Order(nil), m.history...),
		used:    make(map[int64]struct{}, len(m.used)),
	}
	for ticket, o := range m.open {
		c := *o
		st.open[ticket] = &c
	}
	for ticket := range m.used {
		st.used[ticket] = struct{}{}
	}
	return st
}

// restore rewinds the book to a snapshot, keeping memory consistent with a
// durable store that rejected the mutation.
func (m *Memory) restore(st memState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.open = st.open
	m.seq = st.seq
	m.history = st.history
	m.used = st.used
}

func (m *Memory) findLocked(sel Selector) (*Order, error) {
	matches := m.matchLocked(sel)
	if len(matches) == 0 {
		return nil, selectorNotFound(sel)
	}
	return matches[0], nil
}

func (m *Memory) matchLocked(sel Selector) []*Order {
	var out []*Order
	if sel.byTicket {
		if o, ok := m.open[sel.ticket]; ok {
			out = append(out, o)
		}
		return out
	}
	for _, ticket := range m.seq {
		o := m.open[ticket]
		if o.InstanceID == sel.instanceID && o.Type == sel.orderType {
			out = append(out, o)
		}
	}
	return out
}

func (m *Memory) removeSeqLocked(ticket int64) {
	for i, t := range m.seq {
		if t == ticket {
			m.seq = append(m.seq[:i], m.seq[i+1:]...)
			return
		}
	}
}

func selectorNotFound(sel Selector) error {
	if sel.byTicket {
		return fmt.Errorf("%w: ticket %d", ErrOrderNotFound, sel.ticket)
	}
	return fmt.Errorf("%w: instance %s type %s", ErrOrderNotFound, sel.instanceID, sel.orderType)
}
