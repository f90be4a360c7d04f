// Package tracklog journals observed track loads into a SQLite file. Used
// by cmd/prolink-watch to keep a play history across sessions; the library
// itself never persists anything.
package tracklog

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS plays (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	at           TEXT NOT NULL,
	player       INTEGER NOT NULL,
	source       INTEGER NOT NULL,
	slot         INTEGER NOT NULL,
	rekordbox_id INTEGER NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	artist       TEXT NOT NULL DEFAULT '',
	album        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS plays_at ON plays(at);
`

// Play is one journal row.
type Play struct {
	At          time.Time
	Player      uint8
	Source      uint8
	Slot        uint8
	RekordboxID uint32
	Title       string
	Artist      string
	Album       string
}

// Log appends plays to the SQLite file at path.
type Log struct {
	db *sql.DB
}

// Open creates or opens the journal and ensures the schema.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracklog: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracklog: create schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Record appends one play.
func (l *Log) Record(p Play) error {
	_, err := l.db.Exec(
		`INSERT INTO plays (at, player, source, slot, rekordbox_id, title, artist, album)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.At.UTC().Format(time.RFC3339), p.Player, p.Source, p.Slot,
		p.RekordboxID, p.Title, p.Artist, p.Album,
	)
	if err != nil {
		return fmt.Errorf("tracklog: record: %w", err)
	}
	return nil
}

// Recent returns the newest n plays, newest first.
func (l *Log) Recent(n int) ([]Play, error) {
	rows, err := l.db.Query(
		`SELECT at, player, source, slot, rekordbox_id, title, artist, album
		 FROM plays ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("tracklog: query: %w", err)
	}
	defer rows.Close()

	var out []Play
	for rows.Next() {
		var p Play
		var at string
		if err := rows.Scan(&at, &p.Player, &p.Source, &p.Slot,
			&p.RekordboxID, &p.Title, &p.Artist, &p.Album); err != nil {
			return nil, fmt.Errorf("tracklog: scan: %w", err)
		}
		p.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, p)
	}
	return out, rows.Err()
}
