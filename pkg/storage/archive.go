// Package storage persists chat history in a local SQLite database.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// Direction marks which way a message travelled.
type Direction string

const (
	DirectionIncoming Direction = "in"
	DirectionOutgoing Direction = "out"
)

// StoredMessage is one archived chat message.
type StoredMessage struct {
	ID           int64
	Account      string
	FriendlyName string
	Direction    Direction
	Body         string
	Timestamp    int64
}

// Archive is a local message archive.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens or creates the archive at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %v", err)
	}

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// initSchema creates database tables
func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account TEXT NOT NULL,
		friendly_name TEXT,
		direction TEXT NOT NULL,
		body TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC);
	`

	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %v", err)
	}
	return nil
}

// SaveIncoming archives a message received from a contact.
func (a *Archive) SaveIncoming(account, friendlyName, body string) error {
	return a.save(account, friendlyName, DirectionIncoming, body)
}

// SaveOutgoing archives a message sent to a contact.
func (a *Archive) SaveOutgoing(account, body string) error {
	return a.save(account, "", DirectionOutgoing, body)
}

func (a *Archive) save(account, friendlyName string, direction Direction, body string) error {
	_, err := a.db.Exec(
		`INSERT INTO messages (account, friendly_name, direction, body, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		account, friendlyName, direction, body, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save message: %v", err)
	}
	return nil
}

// History returns the most recent messages exchanged with an account,
// oldest first. A limit of zero or less returns everything.
func (a *Archive) History(account string, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.Query(
		`SELECT id, account, friendly_name, direction, body, timestamp
		 FROM messages WHERE account = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %v", err)
	}
	defer rows.Close()

	var messages []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var friendly sql.NullString
		if err := rows.Scan(&m.ID, &m.Account, &friendly, &m.Direction, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		m.FriendlyName = friendly.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Peers returns the accounts that appear in the archive, most recently
// active first.
func (a *Archive) Peers() ([]string, error) {
	rows, err := a.db.Query(
		`SELECT account FROM messages GROUP BY account ORDER BY MAX(timestamp) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query peers: %v", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, err
		}
		peers = append(peers, account)
	}
	return peers, rows.Err()
}

// Close closes the database connection
func (a *Archive) Close() error {
	return a.db.Close()
}
