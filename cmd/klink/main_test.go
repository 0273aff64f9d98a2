package main

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"kodilink/internal/bridge"
)

func TestMarkCooldownWritesTimestamp(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	store, err := bridge.NewStore()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.SetHost(bridge.Session{HostID: "den", Address: "10.0.0.5"}); err != nil {
		t.Fatalf("set host: %v", err)
	}

	a := &app{store: store}
	before := time.Now()
	a.markCooldown()

	session, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	at := session.CooldownAt()
	if at.Before(before.Truncate(time.Millisecond)) || at.After(time.Now()) {
		t.Fatalf("cooldown timestamp not recorded: %v", at)
	}
}

func TestMarkCooldownWarnsWhenWriteFails(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	store, err := bridge.NewStore()
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	// No session record: SetCooldown has nothing to update.
	a := &app{store: store}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	old := os.Stderr
	os.Stderr = w
	a.markCooldown()
	os.Stderr = old
	_ = w.Close()

	out, _ := io.ReadAll(r)
	if !strings.Contains(string(out), "cooldown not recorded") {
		t.Fatalf("expected warning on stderr, got %q", out)
	}
}
