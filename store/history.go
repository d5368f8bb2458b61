package store

// NodeRow is one archived node measurement.
type NodeRow struct {
	ID         int64  `json:"id"`
	CycleUUID  string `json:"cycle_uuid"`
	NodeAddr   int    `json:"node_addr"`
	Payload    string `json:"payload"`
	RSSIDBm    int    `json:"rssi_dbm"`
	Missing    bool   `json:"missing"`
	RecordedAt string `json:"recorded_at"`
}

// StatusRow is one archived gateway-health reading.
type StatusRow struct {
	ID         int64   `json:"id"`
	CycleUUID  string  `json:"cycle_uuid"`
	BatteryV   float64 `json:"battery_v"`
	SolarV     float64 `json:"solar_v"`
	SolarMA    float64 `json:"solar_ma"`
	TempC      float64 `json:"temp_c"`
	SignalDBm  int     `json:"signal_dbm"`
	RecordedAt string  `json:"recorded_at"`
}

// SyncRow is one archived acquisition outcome.
type SyncRow struct {
	ID         int64  `json:"id"`
	CycleUUID  string `json:"cycle_uuid"`
	Kind       string `json:"kind"` // measure, resync or first-sync
	Synced     string `json:"synced"`
	Unsynced   string `json:"unsynced"`
	Detail     string `json:"detail"`
	RecordedAt string `json:"recorded_at"`
}

// DrainRow is one archived drain-pass outcome.
type DrainRow struct {
	ID         int64  `json:"id"`
	Delivered  int    `json:"delivered"`
	Cleared    bool   `json:"cleared"`
	Failure    string `json:"failure"`
	RecordedAt string `json:"recorded_at"`
}

func (db *DB) InsertNodeRecord(cycleUUID string, addr int, payload string, rssi int, missing bool) error {
	_, err := db.Exec(`INSERT INTO node_history (cycle_uuid, node_addr, payload, rssi_dbm, missing) VALUES (?, ?, ?, ?, ?)`,
		cycleUUID, addr, payload, rssi, missing)
	return err
}

func (db *DB) InsertStatus(cycleUUID string, batteryV, solarV, solarMA, tempC float64, signalDBm int) error {
	_, err := db.Exec(`INSERT INTO status_history (cycle_uuid, battery_v, solar_v, solar_ma, temp_c, signal_dbm) VALUES (?, ?, ?, ?, ?, ?)`,
		cycleUUID, batteryV, solarV, solarMA, tempC, signalDBm)
	return err
}

func (db *DB) InsertSyncLog(cycleUUID, kind, synced, unsynced, detail string) error {
	_, err := db.Exec(`INSERT INTO sync_log (cycle_uuid, kind, synced, unsynced, detail) VALUES (?, ?, ?, ?, ?)`,
		cycleUUID, kind, synced, unsynced, detail)
	return err
}

func (db *DB) InsertDrainLog(delivered int, cleared bool, failure string) error {
	_, err := db.Exec(`INSERT INTO drain_log (delivered, cleared, failure) VALUES (?, ?, ?)`,
		delivered, cleared, failure)
	return err
}

func (db *DB) ListNodeHistory(addr, limit int) ([]NodeRow, error) {
	query := `SELECT id, cycle_uuid, node_addr, payload, rssi_dbm, missing, recorded_at
		FROM node_history WHERE (? = 0 OR node_addr = ?) ORDER BY id DESC LIMIT ?`
	rows, err := db.Query(query, addr, addr, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NodeRow
	for rows.Next() {
		var r NodeRow
		if err := rows.Scan(&r.ID, &r.CycleUUID, &r.NodeAddr, &r.Payload, &r.RSSIDBm, &r.Missing, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) ListStatusHistory(limit int) ([]StatusRow, error) {
	rows, err := db.Query(`SELECT id, cycle_uuid, battery_v, solar_v, solar_ma, temp_c, signal_dbm, recorded_at
		FROM status_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusRow
	for rows.Next() {
		var r StatusRow
		if err := rows.Scan(&r.ID, &r.CycleUUID, &r.BatteryV, &r.SolarV, &r.SolarMA, &r.TempC, &r.SignalDBm, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) ListSyncLog(limit int) ([]SyncRow, error) {
	rows, err := db.Query(`SELECT id, cycle_uuid, kind, synced, unsynced, detail, recorded_at
		FROM sync_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SyncRow
	for rows.Next() {
		var r SyncRow
		if err := rows.Scan(&r.ID, &r.CycleUUID, &r.Kind, &r.Synced, &r.Unsynced, &r.Detail, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) ListDrainLog(limit int) ([]DrainRow, error) {
	rows, err := db.Query(`SELECT id, delivered, cleared, failure, recorded_at
		FROM drain_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DrainRow
	for rows.Next() {
		var r DrainRow
		if err := rows.Scan(&r.ID, &r.Delivered, &r.Cleared, &r.Failure, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
