package store

const schema = `
CREATE TABLE IF NOT EXISTS admin_users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS node_history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_uuid  TEXT NOT NULL,
    node_addr   INTEGER NOT NULL,
    payload     TEXT NOT NULL DEFAULT '',
    rssi_dbm    INTEGER NOT NULL DEFAULT 0,
    missing     INTEGER NOT NULL DEFAULT 0,
    recorded_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_node_history_cycle ON node_history(cycle_uuid);
CREATE INDEX IF NOT EXISTS idx_node_history_addr ON node_history(node_addr);

CREATE TABLE IF NOT EXISTS status_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_uuid   TEXT NOT NULL,
    battery_v    REAL NOT NULL DEFAULT 0,
    solar_v      REAL NOT NULL DEFAULT 0,
    solar_ma     REAL NOT NULL DEFAULT 0,
    temp_c       REAL NOT NULL DEFAULT 0,
    signal_dbm   INTEGER NOT NULL DEFAULT 0,
    recorded_at  TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS sync_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_uuid  TEXT NOT NULL,
    kind        TEXT NOT NULL,
    synced      TEXT NOT NULL DEFAULT '',
    unsynced    TEXT NOT NULL DEFAULT '',
    detail      TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_sync_log_kind ON sync_log(kind);

CREATE TABLE IF NOT EXISTS drain_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    delivered   INTEGER NOT NULL DEFAULT 0,
    cleared     INTEGER NOT NULL DEFAULT 0,
    failure     TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
`

func (db *DB) migrate() error {
	_, err := db.Exec(schema)
	return err
}
