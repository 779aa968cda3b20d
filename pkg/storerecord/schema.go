package storerecord

// schema is applied once at startup via db.ExecContext. SQLite has no
// CREATE TABLE IF NOT EXISTS race to worry about since the process opens
// the database with max_open_conns=1.
const schema = `
CREATE TABLE IF NOT EXISTS stores (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	engine         TEXT NOT NULL,
	namespace      TEXT NOT NULL,
	helm_release   TEXT NOT NULL,
	status         TEXT NOT NULL,
	store_url      TEXT,
	failure_reason TEXT,
	admin_username TEXT NOT NULL,
	admin_email    TEXT NOT NULL,
	admin_password TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS stores_name_live_idx
	ON stores(name)
	WHERE status != 'DELETED';

CREATE INDEX IF NOT EXISTS stores_status_idx ON stores(status);
`
