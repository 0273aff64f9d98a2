package bridge

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Secrets is the credential store, a separate 0600 file keyed by host id.
// It deliberately lives apart from the shared session record: erasing the
// session on teardown never touches credentials.
type Secrets struct {
	path string
	mu   sync.Mutex
}

// NewSecrets creates the credential store at the default location.
func NewSecrets() (*Secrets, error) {
	dir, err := stateDir()
	if err != nil {
		return nil, err
	}
	return &Secrets{path: filepath.Join(dir, "secrets.json")}, nil
}

// NewSecretsAt creates a credential store at an explicit path. Used by
// tests.
func NewSecretsAt(path string) *Secrets {
	return &Secrets{path: path}
}

// Set stores the secret for a host.
func (s *Secrets) Set(hostID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return err
	}
	data[hostID] = secret
	return s.writeAll(data)
}

// Get returns the secret for a host if stored.
func (s *Secrets) Get(hostID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return "", false, err
	}
	secret, ok := data[hostID]
	return secret, ok, nil
}

// Delete removes the secret for a host.
func (s *Secrets) Delete(hostID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readAll()
	if err != nil {
		return err
	}
	delete(data, hostID)
	return s.writeAll(data)
}

func (s *Secrets) readAll() (map[string]string, error) {
	data := map[string]string{}
	file, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return data, nil
		}
		return nil, err
	}
	if len(file) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(file, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Secrets) writeAll(data map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, payload, 0o600)
}
