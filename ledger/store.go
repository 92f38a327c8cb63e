package ledger

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable Ledger: every mutation goes through an in-memory
// Memory for invariant checks and fast reads, then writes through to SQLite
// so out-of-process readers (dashboard, monitor) can tail the same file.
// A failed write rewinds the memory mutation — the book never runs ahead
// of what the database recorded, or a restart would resurrect state the
// engine already acted on.
type Store struct {
	mem *Memory
	db  *sqlx.DB
}

// OpenStore opens (or creates) the ledger database at path and loads both
// sets into memory. Duplicate tickets or a ticket present in both tables
// refuse to load with ErrLedgerCorruption.
func OpenStore(path string, opts ...MemoryOption) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger db %s", path)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply ledger schema")
	}

	var open []Order
	if err := db.Select(&open, `SELECT * FROM open_orders ORDER BY rowid`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load open orders")
	}

	var history []Order
	if err := db.Select(&history, `SELECT * FROM order_history ORDER BY rowid`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load order history")
	}

	mem, err := newMemoryFrom(open, history, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{mem: mem, db: db}, nil
}

// CloseDB releases the underlying database handle.
func (s *Store) CloseDB() error { return s.db.Close() }

func (s *Store) Open(req OpenRequest) (int64, error) {
	st := s.mem.snapshot()

	ticket, err := s.mem.Open(req)
	if err != nil {
		return 0, err
	}

	o, ok := s.mem.Lookup(ticket)
	if !ok {
		return 0, errors.Errorf("ticket %d vanished after open", ticket)
	}

	if _, err := s.db.NamedExec(`
		INSERT INTO open_orders
		(ticket, instance_id, type, instrument, volume, open_time, open_price, stop_loss, take_profit, floating_profit)
		VALUES (:ticket, :instance_id, :type, :instrument, :volume, :open_time, :open_price, :stop_loss, :take_profit, :floating_profit)`,
		o,
	); err != nil {
		s.mem.restore(st)
		return 0, errors.Wrapf(err, "persist open order %d", ticket)
	}
	return ticket, nil
}

func (s *Store) Close(sel Selector, closeTime time.Time, closePrice float64, balance float64) (Order, error) {
	st := s.mem.snapshot()

	closed, err := s.mem.Close(sel, closeTime, closePrice, balance)
	if err != nil {
		return Order{}, err
	}

	tx, err := s.db.Beginx()
	if err != nil {
		s.mem.restore(st)
		return Order{}, errors.Wrap(err, "begin close tx")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM open_orders WHERE ticket = ?`, closed.Ticket); err != nil {
		s.mem.restore(st)
		return Order{}, errors.Wrapf(err, "remove open order %d", closed.Ticket)
	}
	if _, err := tx.NamedExec(`
		INSERT INTO order_history
		(ticket, instance_id, type, instrument, volume, open_time, open_price, stop_loss, take_profit, floating_profit,
		 close_time, close_price, realized_profit, realized_profit_ratio)
		VALUES (:ticket, :instance_id, :type, :instrument, :volume, :open_time, :open_price, :stop_loss, :take_profit, :floating_profit,
		 :close_time, :close_price, :realized_profit, :realized_profit_ratio)`,
		closed,
	); err != nil {
		s.mem.restore(st)
		return Order{}, errors.Wrapf(err, "append history %d", closed.Ticket)
	}
	if err := tx.Commit(); err != nil {
		s.mem.restore(st)
		return Order{}, errors.Wrapf(err, "commit close %d", closed.Ticket)
	}
	return closed, nil
}

func (s *Store) Modify(sel Selector, slDistance, tpDistance, referencePrice float64) ([]Order, error) {
	st := s.mem.snapshot()

	modified, err := s.mem.Modify(sel, slDistance, tpDistance, referencePrice)
	if err != nil {
		return nil, err
	}

	for _, o := range modified {
		if _, err := s.db.Exec(
			`UPDATE open_orders SET stop_loss = ?, take_profit = ? WHERE ticket = ?`,
			o.StopLoss, o.TakeProfit, o.Ticket,
		); err != nil {
			s.mem.restore(st)
			return nil, errors.Wrapf(err, "persist modify %d", o.Ticket)
		}
	}
	return modified, nil
}

func (s *Store) UpdateProfit(ticket int64, profit float64) error {
	st := s.mem.snapshot()

	if err := s.mem.UpdateProfit(ticket, profit); err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`UPDATE open_orders SET floating_profit = ? WHERE ticket = ?`,
		profit, ticket,
	); err != nil {
		s.mem.restore(st)
		return errors.Wrapf(err, "persist profit %d", ticket)
	}
	return nil
}

func (s *Store) Lookup(ticket int64) (Order, bool)              { return s.mem.Lookup(ticket) }
func (s *Store) ListOpen(instanceID string) ([]Order, error)    { return s.mem.ListOpen(instanceID) }
func (s *Store) ListHistory(instanceID string) ([]Order, error) { return s.mem.ListHistory(instanceID) }
func (s *Store) ListAllOpen() ([]Order, error)                  { return s.mem.ListAllOpen() }

func (s *Store) PurgeOrphans(activeInstanceIDs []string) ([]Order, error) {
	st := s.mem.snapshot()

	removed, err := s.mem.PurgeOrphans(activeInstanceIDs)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		s.mem.restore(st)
		return nil, errors.Wrap(err, "begin purge tx")
	}
	defer tx.Rollback()

	for _, o := range removed {
		if _, err := tx.Exec(`DELETE FROM open_orders WHERE ticket = ?`, o.Ticket); err != nil {
			s.mem.restore(st)
			return nil, errors.Wrapf(err, "purge order %d", o.Ticket)
		}
	}
	if err := tx.Commit(); err != nil {
		s.mem.restore(st)
		return nil, errors.Wrap(err, "commit purge")
	}
	return removed, nil
}

// RecordEquity appends one per-cycle equity snapshot.
func (s *Store) RecordEquity(e EquitySnapshot) error {
	_, err := s.db.NamedExec(`
		INSERT INTO equity (run_id, time, balance, equity, virtual_balance, virtual_equity)
		VALUES (:run_id, :time, :balance, :equity, :virtual_balance, :virtual_equity)`,
		e,
	)
	return errors.Wrap(err, "record equity")
}
