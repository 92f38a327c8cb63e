package ledger

const schema = `
CREATE TABLE IF NOT EXISTS open_orders (
	ticket INTEGER PRIMARY KEY,
	instance_id TEXT NOT NULL,
	type INTEGER NOT NULL,
	instrument TEXT NOT NULL,
	volume REAL NOT NULL,
	open_time DATETIME NOT NULL,
	open_price REAL NOT NULL,
	stop_loss REAL NOT NULL,
	take_profit REAL NOT NULL,
	floating_profit REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_open_instance ON open_orders(instance_id);

CREATE TABLE IF NOT EXISTS order_history (
	ticket INTEGER PRIMARY KEY,
	instance_id TEXT NOT NULL,
	type INTEGER NOT NULL,
	instrument TEXT NOT NULL,
	volume REAL NOT NULL,
	open_time DATETIME NOT NULL,
	open_price REAL NOT NULL,
	stop_loss REAL NOT NULL,
	take_profit REAL NOT NULL,
	floating_profit REAL NOT NULL,
	close_time DATETIME NOT NULL,
	close_price REAL NOT NULL,
	realized_profit REAL NOT NULL,
	realized_profit_ratio REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_instance ON order_history(instance_id);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	virtual_balance REAL NOT NULL,
	virtual_equity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
