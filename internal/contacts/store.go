// Package contacts persists the user's contact book and tracks live
// presence announced by the signaling relay.
package contacts

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("contacts")

// Contact is one entry in the contact book. Online is live relay presence,
// reset on startup since it only means anything while connected.
type Contact struct {
	PeerID   string
	Username string
	Online   bool
	AddedAt  time.Time
}

// Event is a presence change for one contact.
type Event struct {
	PeerID string
	Online bool
}

type Store struct {
	db *sql.DB

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}
}

// Open creates or opens the contact database under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(dir, "contacts.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open contacts db: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		peer_id   TEXT PRIMARY KEY,
		username  TEXT NOT NULL,
		online    INTEGER NOT NULL DEFAULT 0,
		added_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_username ON contacts(username);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	log.Infof("contact store ready: %s", path)
	return &Store{
		db:        db,
		listeners: make(map[chan Event]struct{}),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts or updates a contact. An existing entry keeps its added_at.
func (s *Store) Add(peerID, username string) error {
	_, err := s.db.Exec(`
		INSERT INTO contacts (peer_id, username) VALUES (?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET username = excluded.username`,
		peerID, username)
	if err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	return nil
}

func (s *Store) Remove(peerID string) error {
	_, err := s.db.Exec(`DELETE FROM contacts WHERE peer_id = ?`, peerID)
	if err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	return nil
}

// Get looks a contact up by peer ID. Returns (nil, nil) when absent.
func (s *Store) Get(peerID string) (*Contact, error) {
	row := s.db.QueryRow(`
		SELECT peer_id, username, online, added_at
		FROM contacts WHERE peer_id = ?`, peerID)

	var c Contact
	var online int
	if err := row.Scan(&c.PeerID, &c.Username, &online, &c.AddedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	c.Online = online != 0
	return &c, nil
}

// List returns all contacts ordered by username.
func (s *Store) List() ([]Contact, error) {
	rows, err := s.db.Query(`
		SELECT peer_id, username, online, added_at
		FROM contacts ORDER BY username COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		var online int
		if err := rows.Scan(&c.PeerID, &c.Username, &online, &c.AddedAt); err != nil {
			return nil, err
		}
		c.Online = online != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetOnline records presence for a known contact and fans the change out to
// subscribers. Presence for peers not in the book is ignored.
func (s *Store) SetOnline(peerID string, online bool) error {
	res, err := s.db.Exec(`UPDATE contacts SET online = ? WHERE peer_id = ?`,
		boolToInt(online), peerID)
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	s.fanout(Event{PeerID: peerID, Online: online})
	return nil
}

// ResetPresence marks every contact offline, called on startup before the
// relay starts streaming presence.
func (s *Store) ResetPresence() error {
	_, err := s.db.Exec(`UPDATE contacts SET online = 0`)
	if err != nil {
		return fmt.Errorf("reset presence: %w", err)
	}
	return nil
}

// Subscribe returns a channel of presence events. cancel releases the
// subscription.
func (s *Store) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 16)

	s.listenerMu.Lock()
	s.listeners[ch] = struct{}{}
	s.listenerMu.Unlock()

	cancel = func() {
		s.listenerMu.Lock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
		s.listenerMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) fanout(ev Event) {
	s.listenerMu.RLock()
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	s.listenerMu.RUnlock()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
