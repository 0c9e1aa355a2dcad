package settings

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Switch kinds as stored in the database and reported to listeners.
const (
	KindPerson = "person"
	KindRoom   = "room"
)

// ChangeListener is notified after a switch changes state. Used by the
// MQTT bridge to republish switch state topics.
type ChangeListener func(kind, id string, enabled bool)

// SwitchBoard tracks the per-person and per-room enable switches.
// Everything defaults to enabled; only explicit off states are stored.
// State is persisted in SQLite so toggles survive restarts. All public
// methods are safe for concurrent use.
type SwitchBoard struct {
	db       *sql.DB
	mu       sync.RWMutex
	off      map[string]bool // "<kind>/<id>" → true when disabled
	listener ChangeListener
}

// OpenSwitchBoard opens (or creates) the switch database at the given
// path and loads all persisted off states.
func OpenSwitchBoard(dbPath string) (*SwitchBoard, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open switch database: %w", err)
	}

	b := &SwitchBoard{
		db:  db,
		off: make(map[string]bool),
	}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := b.load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load switches: %w", err)
	}

	return b, nil
}

// Close closes the underlying database.
func (b *SwitchBoard) Close() error {
	return b.db.Close()
}

// SetListener registers a callback invoked after every state change.
// Only one listener is supported; later calls replace earlier ones.
func (b *SwitchBoard) SetListener(fn ChangeListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = fn
}

func (b *SwitchBoard) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS switches (
		kind       TEXT NOT NULL,
		id         TEXT NOT NULL,
		enabled    INTEGER NOT NULL,
		PRIMARY KEY (kind, id)
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *SwitchBoard) load() error {
	rows, err := b.db.Query(`SELECT kind, id, enabled FROM switches`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var kind, id string
		var enabled int
		if err := rows.Scan(&kind, &id, &enabled); err != nil {
			return err
		}
		if enabled == 0 {
			b.off[switchKey(kind, id)] = true
		}
	}
	return rows.Err()
}

func switchKey(kind, id string) string {
	return kind + "/" + id
}

// Set records the enabled state for a switch and persists it. The
// change listener (if any) is invoked after the state is stored.
func (b *SwitchBoard) Set(kind, id string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := b.db.Exec(
		`INSERT INTO switches (kind, id, enabled) VALUES (?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET enabled = excluded.enabled`,
		kind, id, val,
	)
	if err != nil {
		return fmt.Errorf("set switch %s/%s: %w", kind, id, err)
	}

	b.mu.Lock()
	if enabled {
		delete(b.off, switchKey(kind, id))
	} else {
		b.off[switchKey(kind, id)] = true
	}
	listener := b.listener
	b.mu.Unlock()

	if listener != nil {
		listener(kind, id, enabled)
	}
	return nil
}

// Enabled reports whether a switch is on. Switches with no stored
// state default to enabled.
func (b *SwitchBoard) Enabled(kind, id string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.off[switchKey(kind, id)]
}
