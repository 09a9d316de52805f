package store

import (
	"time"

	"github.com/google/uuid"
)

// AddLog appends an activity feed entry. A zero ID and timestamp are
// filled in.
func (db *DB) AddLog(entry *LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if entry.Type == "" {
		entry.Type = "info"
	}
	_, err := db.Exec(`
		INSERT INTO logs (id, timestamp, user, action, details, type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp, entry.User, entry.Action, entry.Details, entry.Type)
	return err
}

// RecentLogs returns the newest entries, most recent first.
func (db *DB) RecentLogs(limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, timestamp, user, action, details, type
		FROM logs
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.User, &e.Action, &e.Details, &e.Type); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
