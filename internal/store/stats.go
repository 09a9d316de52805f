package store

// Counter keys tracked by the daemon.
const (
	StatSent     = "sent"
	StatReceived = "received"
	StatErrors   = "errors"
)

// IncrementStat adds one to the named counter, creating it at 1 if
// missing.
func (db *DB) IncrementStat(key string) error {
	_, err := db.Exec(`
		INSERT INTO stats (key, value) VALUES (?, 1)
		ON CONFLICT(key) DO UPDATE SET value = value + 1`, key)
	return err
}

// GetStat returns the current value of the named counter (0 if unset).
func (db *DB) GetStat(key string) (int64, error) {
	var v int64
	err := db.QueryRow(`SELECT COALESCE(MAX(value), 0) FROM stats WHERE key = ?`, key).Scan(&v)
	return v, err
}

// GetStats returns all lifetime counters.
func (db *DB) GetStats() (*Stats, error) {
	rows, err := db.Query(`SELECT key, value FROM stats`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var s Stats
	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case StatSent:
			s.Sent = value
		case StatReceived:
			s.Received = value
		case StatErrors:
			s.Errors = value
		}
	}
	return &s, rows.Err()
}
