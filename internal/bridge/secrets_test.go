package bridge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsRoundTrip(t *testing.T) {
	s := NewSecretsAt(filepath.Join(t.TempDir(), "secrets.json"))

	if _, ok, err := s.Get("livingroom"); err != nil || ok {
		t.Fatalf("expected empty store, ok=%v err=%v", ok, err)
	}
	if err := s.Set("livingroom", "hunter2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("bedroom", "swordfish"); err != nil {
		t.Fatalf("set: %v", err)
	}

	secret, ok, err := s.Get("livingroom")
	if err != nil || !ok || secret != "hunter2" {
		t.Fatalf("get: %q ok=%v err=%v", secret, ok, err)
	}

	if err := s.Delete("livingroom"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get("livingroom"); ok {
		t.Fatalf("secret survived delete")
	}
	if secret, ok, _ := s.Get("bedroom"); !ok || secret != "swordfish" {
		t.Fatalf("unrelated secret disturbed: %q ok=%v", secret, ok)
	}
}

func TestSecretsFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	s := NewSecretsAt(path)
	if err := s.Set("livingroom", "hunter2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %o", perm)
	}
}
