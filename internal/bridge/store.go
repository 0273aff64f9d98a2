package bridge

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Session is the minimal projection of live state that the one-shot CLI
// needs to issue its own commands. It never carries the raw secret, only a
// reference into the credential store.
type Session struct {
	HostID     string `json:"hostId"`
	Address    string `json:"address"`
	HTTPPort   int    `json:"httpPort"`
	EventsPort int    `json:"eventsPort"`
	Username   string `json:"username,omitempty"`
	SecretRef  string `json:"secretRef,omitempty"`
	PlayerID   *int   `json:"playerId,omitempty"`
	CooldownMS int64  `json:"cooldownMs,omitempty"`
}

// CooldownAt returns the cooldown marker as a time.
func (s Session) CooldownAt() time.Time {
	if s.CooldownMS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.CooldownMS)
}

// Store persists the shared session record under XDG_STATE_HOME or
// ~/.local/state. Both execution contexts read it; the primary process
// writes everything, the CLI writes only the cooldown timestamp.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates the shared store at the default location.
func NewStore() (*Store, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return &Store{path: filepath.Join(dir, "session.json")}, nil
}

// NewStoreAt creates a store at an explicit path. Used by tests.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

// Load reads the current session record. A missing file is not an error.
func (s *Store) Load() (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SetHost writes the host projection, preserving any player and cooldown
// entries already recorded.
func (s *Store) SetHost(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.read()
	if err != nil {
		return err
	}
	if ok && cur.HostID == sess.HostID {
		sess.PlayerID = cur.PlayerID
		sess.CooldownMS = cur.CooldownMS
	}
	return s.write(sess)
}

// SetPlayer records the active player id.
func (s *Store) SetPlayer(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.read()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no session record")
	}
	cur.PlayerID = &id
	return s.write(cur)
}

// ClearPlayer erases the active player entry so the second context cannot
// issue commands against a stale player.
func (s *Store) ClearPlayer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.read()
	if err != nil || !ok {
		return err
	}
	cur.PlayerID = nil
	cur.CooldownMS = 0
	return s.write(cur)
}

// SetCooldown records the last-intent-action timestamp. This is the only
// field the second execution context writes.
func (s *Store) SetCooldown(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.read()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("no session record")
	}
	cur.CooldownMS = t.UnixMilli()
	return s.write(cur)
}

// Clear removes the session record entirely. Credentials are kept.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) read() (Session, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	if len(data) == 0 {
		return Session{}, false, nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *Store) write(sess Session) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o600)
}

func stateDir() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "kodilink"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "kodilink"), nil
}
