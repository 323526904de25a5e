// Package database provides SQLite persistence for document sessions,
// grounded on kolabpad's pkg/database but widened to carry the OT
// history a session needs to serve ApplyPull after a cold restart,
// instead of just the latest text snapshot.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/otsync/otsync/pkg/ot"
	"github.com/otsync/otsync/pkg/session"
)

// Database wraps a SQLite connection and implements session.Store.
type Database struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at uri and runs migrations.
func New(uri string) (*Database, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Load implements session.Store, returning nil if the document has
// never been persisted.
func (d *Database) Load(id string) (*session.Snapshot, error) {
	var content string
	var revision int
	var historyJSON string

	err := d.db.QueryRow(
		"SELECT content, revision, history FROM document WHERE id = ?",
		id,
	).Scan(&content, &revision, &historyJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	var history []*ot.Operation
	if historyJSON != "" {
		if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}

	return &session.Snapshot{Content: content, Revision: revision, History: history}, nil
}

// Save implements session.Store, upserting the document's full
// durable state.
func (d *Database) Save(id string, snap *session.Snapshot) error {
	historyJSON, err := json.Marshal(snap.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	query := `
	INSERT INTO document (id, content, revision, history)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		content = excluded.content,
		revision = excluded.revision,
		history = excluded.history
	`

	result, err := d.db.Exec(query, id, snap.Content, snap.Revision, string(historyJSON))
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows != 1 {
		return fmt.Errorf("expected 1 row affected, got %d", rows)
	}

	return nil
}

// Count returns the total number of documents in the database.
func (d *Database) Count() (int, error) {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM document").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Delete removes a document from the database.
func (d *Database) Delete(id string) error {
	_, err := d.db.Exec("DELETE FROM document WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}
