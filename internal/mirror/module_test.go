package mirror

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"kodilink/internal/state"
)

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: payload})
	return nil
}

func (f *fakePublisher) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestMirrorPublishesPresenceAndState(t *testing.T) {
	pub := &fakePublisher{}
	states := make(chan state.PlaybackState, 2)
	mod, err := NewModule(zap.NewNop(), Config{HostID: "livingroom", HostName: "Living Room"}, states, pub)
	if err != nil {
		t.Fatalf("new module: %v", err)
	}

	states <- state.PlaybackState{
		Active:   true,
		Title:    "Heat",
		Speed:    1,
		Position: 10 * time.Minute,
		Duration: 20 * time.Minute,
		Volume:   70,
	}
	close(states)

	if err := mod.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs := pub.snapshot()
	if len(msgs) != 2 {
		t.Fatalf("expected presence + state, got %d", len(msgs))
	}
	if msgs[0].topic != "kodilink/v1/host/livingroom/presence" || !msgs[0].retained {
		t.Fatalf("unexpected presence publish: %+v", msgs[0])
	}
	if msgs[1].topic != "kodilink/v1/host/livingroom/state" || !msgs[1].retained {
		t.Fatalf("unexpected state publish: %+v", msgs[1])
	}

	var decoded statePayload
	if err := json.Unmarshal(msgs[1].payload, &decoded); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if decoded.Status != "playing" || decoded.Title != "Heat" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
	if decoded.PositionMS != (10 * time.Minute).Milliseconds() {
		t.Fatalf("unexpected position: %d", decoded.PositionMS)
	}
}

func TestMirrorStatusMapping(t *testing.T) {
	cases := []struct {
		st   state.PlaybackState
		want string
	}{
		{state.PlaybackState{Active: true, Speed: 1}, "playing"},
		{state.PlaybackState{Active: true, Speed: 0}, "paused"},
		{state.PlaybackState{Active: false}, "stopped"},
	}
	for _, tc := range cases {
		pub := &fakePublisher{}
		states := make(chan state.PlaybackState, 1)
		mod, err := NewModule(zap.NewNop(), Config{HostID: "h"}, states, pub)
		if err != nil {
			t.Fatalf("new module: %v", err)
		}
		states <- tc.st
		close(states)
		if err := mod.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}

		msgs := pub.snapshot()
		var decoded statePayload
		if err := json.Unmarshal(msgs[len(msgs)-1].payload, &decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Status != tc.want {
			t.Fatalf("status %q, want %q", decoded.Status, tc.want)
		}
	}
}

func TestMirrorStopsOnContextCancel(t *testing.T) {
	pub := &fakePublisher{}
	states := make(chan state.PlaybackState)
	mod, err := NewModule(zap.NewNop(), Config{HostID: "h"}, states, pub)
	if err != nil {
		t.Fatalf("new module: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mod.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

type subscribingPublisher struct {
	fakePublisher
	mu       sync.Mutex
	handlers map[string]func(string, []byte)
}

func (s *subscribingPublisher) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[string]func(string, []byte){}
	}
	s.handlers[topic] = handler
	return nil
}

func (s *subscribingPublisher) deliver(topic string, payload []byte) {
	s.mu.Lock()
	handler := s.handlers[topic]
	s.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

type fakeCommands struct {
	mu      sync.Mutex
	calls   []string
	offsets []time.Duration
	levels  []int
}

func (f *fakeCommands) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeCommands) PlayPause(ctx context.Context) error { f.record("playpause"); return nil }
func (f *fakeCommands) Stop(ctx context.Context) error      { f.record("stop"); return nil }
func (f *fakeCommands) Next(ctx context.Context) error      { f.record("next"); return nil }
func (f *fakeCommands) Prev(ctx context.Context) error      { f.record("prev"); return nil }

func (f *fakeCommands) SeekBy(ctx context.Context, offset time.Duration) error {
	f.record("seek")
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	f.mu.Unlock()
	return nil
}

func (f *fakeCommands) SeekPercent(ctx context.Context, percent float64) error {
	f.record("seek_percent")
	return nil
}

func (f *fakeCommands) SetVolume(ctx context.Context, level int) error {
	f.record("volume")
	f.mu.Lock()
	f.levels = append(f.levels, level)
	f.mu.Unlock()
	return nil
}

func (f *fakeCommands) SetMute(ctx context.Context, mute bool) error { f.record("mute"); return nil }

func TestCommandIntakeRoutesToDispatcher(t *testing.T) {
	pub := &subscribingPublisher{}
	cmds := &fakeCommands{}
	states := make(chan state.PlaybackState)
	mod, err := NewModule(zap.NewNop(), Config{HostID: "livingroom"}, states, pub)
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	mod.SetCommands(cmds)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mod.Run(ctx) }()

	topic := "kodilink/v1/host/livingroom/cmd"
	deadline := time.After(time.Second)
	for {
		pub.mu.Lock()
		subscribed := pub.handlers[topic] != nil
		pub.mu.Unlock()
		if subscribed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("command topic never subscribed")
		case <-time.After(time.Millisecond):
		}
	}

	pub.deliver(topic, []byte(`{"action":"toggle"}`))
	pub.deliver(topic, []byte(`{"action":"seek","offsetMs":30000}`))
	pub.deliver(topic, []byte(`{"action":"volume","level":55}`))
	pub.deliver(topic, []byte(`not json`))
	pub.deliver(topic, []byte(`{"action":"launch_missiles"}`))

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	cmds.mu.Lock()
	defer cmds.mu.Unlock()
	want := []string{"playpause", "seek", "volume"}
	if len(cmds.calls) != len(want) {
		t.Fatalf("calls %v, want %v", cmds.calls, want)
	}
	for i, name := range want {
		if cmds.calls[i] != name {
			t.Fatalf("call %d is %s, want %s", i, cmds.calls[i], name)
		}
	}
	if cmds.offsets[0] != 30*time.Second {
		t.Fatalf("offset %v", cmds.offsets[0])
	}
	if cmds.levels[0] != 55 {
		t.Fatalf("level %d", cmds.levels[0])
	}
}

func TestModuleRequiresBrokerOrPublisher(t *testing.T) {
	if _, err := NewModule(zap.NewNop(), Config{HostID: "h"}, nil, nil); err == nil {
		t.Fatalf("expected error without broker")
	}
}
