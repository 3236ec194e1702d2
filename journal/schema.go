package journal

const Schema = `
CREATE TABLE IF NOT EXISTS fills (
	event_id TEXT PRIMARY KEY,
	time DATETIME NOT NULL,
	local_id TEXT NOT NULL,
	broker_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	kind TEXT NOT NULL,
	qty INTEGER NOT NULL,
	price REAL NOT NULL,
	remaining INTEGER NOT NULL,
	realized_pl REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_local_id ON fills(local_id);
CREATE INDEX IF NOT EXISTS idx_fills_time ON fills(time);

CREATE TABLE IF NOT EXISTS positions (
	local_id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	direction TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	is_open INTEGER NOT NULL,
	stop_loss REAL,
	take_profit REAL,
	highest_price REAL,
	lowest_price REAL,
	is_closing INTEGER NOT NULL,
	trailing INTEGER NOT NULL,
	point_id TEXT NOT NULL,
	point_index INTEGER NOT NULL,
	strategy TEXT NOT NULL,
	trail_offset REAL NOT NULL,
	opened_at DATETIME,
	seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions_rejected (
	local_id TEXT,
	instrument TEXT,
	direction TEXT,
	quantity INTEGER,
	entry_price REAL,
	is_open INTEGER,
	stop_loss REAL,
	take_profit REAL,
	highest_price REAL,
	lowest_price REAL,
	is_closing INTEGER,
	trailing INTEGER,
	point_id TEXT,
	point_index INTEGER,
	strategy TEXT,
	trail_offset REAL,
	opened_at DATETIME,
	seq INTEGER,
	reason TEXT NOT NULL,
	rejected_at DATETIME NOT NULL
);
`
