package state

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kodilink/internal/events"
	"kodilink/internal/kodi"
)

// Mode is the synchronizer operating mode.
type Mode int

const (
	// EventDriven consumes push notifications plus a slow progress poll.
	EventDriven Mode = iota
	// PollingFallback runs full polls at a fast cadence for the rest of
	// the session.
	PollingFallback
)

// Querier is the subset of the RPC client the synchronizer polls through.
type Querier interface {
	ActivePlayers(ctx context.Context) ([]kodi.Player, error)
	PlayerProperties(ctx context.Context, playerID int, props []string) (kodi.Properties, error)
	PlayerItem(ctx context.Context, playerID int, props []string) (kodi.Item, error)
	ApplicationProperties(ctx context.Context) (kodi.AppProperties, error)
}

// Stream is the event stream the synchronizer consumes. events.Manager
// implements it.
type Stream interface {
	Connect(ctx context.Context) error
	Notifications() <-chan kodi.Notification
	States() <-chan events.State
	Disconnect()
}

// SessionStore receives the shared-context projection for the second
// execution context. bridge.Store implements it.
type SessionStore interface {
	SetPlayer(id int) error
	ClearPlayer() error
	SetCooldown(t time.Time) error
}

// Config tunes the synchronizer cadences.
type Config struct {
	Cooldown         time.Duration
	ProgressInterval time.Duration
	FallbackInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cooldown == 0 {
		c.Cooldown = 3 * time.Second
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = 5 * time.Second
	}
	if c.FallbackInterval == 0 {
		c.FallbackInterval = 2 * time.Second
	}
	return c
}

type refreshKind int

const (
	fullRefresh refreshKind = iota
	progressRefresh
	volumeRefresh
)

// auxDetails are the expensive per-file descriptors, refetched only when
// the media file changes.
type auxDetails struct {
	videoCodec string
	audioCodec string
	hdrType    string
}

// Synchronizer merges notifications, poll results, and locally predicted
// updates into one authoritative PlaybackState. It is the single writer:
// every mutation goes through its mutex and the cooldown merge rule.
type Synchronizer struct {
	log    *zap.Logger
	rpc    Querier
	stream Stream
	bridge SessionStore
	cfg    Config
	now    func() time.Time

	mu         sync.Mutex
	cur        PlaybackState
	mode       Mode
	conn       events.State
	cooldownAt time.Time
	lastFile   string
	aux        auxDetails
	subs       []chan PlaybackState
}

// NewSynchronizer creates a synchronizer. stream and store may be nil
// (pure-polling operation, tests).
func NewSynchronizer(log *zap.Logger, rpc Querier, stream Stream, store SessionStore, cfg Config) *Synchronizer {
	return &Synchronizer{
		log:    log.With(zap.String("module", "sync")),
		rpc:    rpc,
		stream: stream,
		bridge: store,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Synchronizer) SetClock(now func() time.Time) {
	s.now = now
}

// Current returns a snapshot of the authoritative state.
func (s *Synchronizer) Current() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Mode returns the active operating mode.
func (s *Synchronizer) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ConnState returns the last observed event stream state.
func (s *Synchronizer) ConnState() events.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Subscribe returns a channel receiving every published state. Slow
// consumers miss intermediate snapshots rather than blocking the writer.
func (s *Synchronizer) Subscribe() <-chan PlaybackState {
	ch := make(chan PlaybackState, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// Run drives the synchronizer until ctx is done. It tries the event stream
// first and falls back to fast polling for the remainder of the session if
// the stream never establishes or later gives up.
func (s *Synchronizer) Run(ctx context.Context) error {
	if s.stream != nil {
		if err := s.stream.Connect(ctx); err != nil {
			s.log.Warn("event stream unavailable, polling instead", zap.Error(err))
			return s.runPolling(ctx)
		}
		s.setMode(EventDriven)
		if err := s.refresh(ctx, fullRefresh); err != nil {
			s.log.Debug("initial refresh failed", zap.Error(err))
		}
		return s.runEvents(ctx)
	}
	return s.runPolling(ctx)
}

func (s *Synchronizer) runEvents(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ProgressInterval)
	defer ticker.Stop()

	notifs := s.stream.Notifications()
	states := s.stream.States()

	for {
		select {
		case <-ctx.Done():
			s.stream.Disconnect()
			return nil
		case n, ok := <-notifs:
			if !ok {
				// Permanent loss mid-session: switch over transparently.
				s.log.Info("event stream lost, switching to polling fallback")
				return s.runPolling(ctx)
			}
			s.handleNotification(ctx, n)
		case st := <-states:
			s.trackConn(st)
		case <-ticker.C:
			if err := s.refresh(ctx, progressRefresh); err != nil {
				s.log.Debug("progress poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Synchronizer) runPolling(ctx context.Context) error {
	s.setMode(PollingFallback)
	if err := s.refresh(ctx, fullRefresh); err != nil {
		s.log.Debug("poll failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.FallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.refresh(ctx, fullRefresh); err != nil {
				s.log.Debug("poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Synchronizer) handleNotification(ctx context.Context, n kodi.Notification) {
	switch n.Method {
	case "Player.OnPlay", "Player.OnPause", "Player.OnStop", "Player.OnSeek",
		"Player.OnSpeedChanged", "Player.OnPropertyChanged", "Player.OnAVChange":
		if err := s.refresh(ctx, fullRefresh); err != nil {
			s.log.Debug("notification refresh failed", zap.String("method", n.Method), zap.Error(err))
		}
	case "Application.OnVolumeChanged":
		if err := s.refresh(ctx, volumeRefresh); err != nil {
			s.log.Debug("volume refresh failed", zap.Error(err))
		}
	default:
		if strings.HasPrefix(n.Method, "Player.") || strings.HasPrefix(n.Method, "Application.") {
			s.log.Debug("ignoring notification", zap.String("method", n.Method))
		}
	}
}

// refresh queries the server and publishes a merged state. Any failure
// leaves the previous state untouched; the next cycle tries again.
func (s *Synchronizer) refresh(ctx context.Context, kind refreshKind) error {
	players, err := s.rpc.ActivePlayers(ctx)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		s.clear()
		return nil
	}
	playerID := players[0].PlayerID

	if kind == volumeRefresh {
		app, err := s.rpc.ApplicationProperties(ctx)
		if err != nil {
			return err
		}
		s.publishVolume(app)
		return nil
	}

	propNames := kodi.BaseProperties
	if kind == progressRefresh {
		propNames = kodi.ProgressProperties
	}
	props, err := s.rpc.PlayerProperties(ctx, playerID, propNames)
	if err != nil {
		return err
	}

	now := s.now()
	next := s.Current()
	next.Active = true
	next.PlayerID = playerID
	next.Duration = props.TotalTime.Duration()
	next.Position = props.Time.Duration()
	next.Speed = props.Speed
	next.LastUpdated = now

	if kind == fullRefresh {
		next.AudioStreams = props.AudioStreams
		next.CurrentAudio = props.CurrentAudioStream.Index
		next.Subtitles = props.Subtitles
		next.CurrentSubtitle = props.CurrentSubtitle.Index
		next.SubtitleEnabled = props.SubtitleEnabled

		item, err := s.rpc.PlayerItem(ctx, playerID, kodi.BaseItemProperties)
		if err != nil {
			return err
		}
		next.MediaType = item.Type
		next.Title = itemTitle(item)
		next.Subtitle = itemSubtitle(item)
		next.File = item.File

		aux, err := s.auxFor(ctx, playerID, item.File)
		if err != nil {
			// Descriptors are cosmetic; keep the cached ones.
			s.log.Debug("aux refresh failed", zap.Error(err))
			aux = s.cachedAux()
		}
		next.VideoCodec = aux.videoCodec
		next.AudioCodec = aux.audioCodec
		next.HDRType = aux.hdrType

		app, err := s.rpc.ApplicationProperties(ctx)
		if err != nil {
			return err
		}
		next.Volume = app.Volume
		next.Muted = app.Muted
	}

	s.publishMerged(next, now)
	return nil
}

// auxFor refetches the expensive per-file descriptors only when the media
// file changed since the last refresh.
func (s *Synchronizer) auxFor(ctx context.Context, playerID int, file string) (auxDetails, error) {
	s.mu.Lock()
	same := file != "" && file == s.lastFile
	cached := s.aux
	s.mu.Unlock()
	if same {
		return cached, nil
	}

	detail, err := s.rpc.PlayerItem(ctx, playerID, kodi.DetailItemProperties)
	if err != nil {
		return auxDetails{}, err
	}
	props, err := s.rpc.PlayerProperties(ctx, playerID, kodi.VideoStreamProperty)
	if err != nil {
		return auxDetails{}, err
	}

	aux := auxDetails{videoCodec: props.CurrentVideoStream.Codec, hdrType: props.CurrentVideoStream.HDRType}
	if detail.StreamDetails != nil {
		if aux.videoCodec == "" && len(detail.StreamDetails.Video) > 0 {
			aux.videoCodec = detail.StreamDetails.Video[0].Codec
		}
		if aux.hdrType == "" && len(detail.StreamDetails.Video) > 0 {
			aux.hdrType = detail.StreamDetails.Video[0].HDRType
		}
		if len(detail.StreamDetails.Audio) > 0 {
			aux.audioCodec = detail.StreamDetails.Audio[0].Codec
		}
	}

	s.mu.Lock()
	s.lastFile = file
	s.aux = aux
	s.mu.Unlock()
	return aux, nil
}

func (s *Synchronizer) cachedAux() auxDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aux
}

// publishMerged applies the cooldown merge rule: within the window after a
// local command the optimistic speed/position survive conflicting poll
// data, everything else takes the fresh values.
func (s *Synchronizer) publishMerged(next PlaybackState, now time.Time) {
	s.mu.Lock()
	if now.Sub(s.cooldownAt) < s.cfg.Cooldown {
		next.Speed = s.cur.Speed
		next.Position = s.cur.Position
		next.LastUpdated = s.cur.LastUpdated
	}
	playerChanged := !s.cur.Active || s.cur.PlayerID != next.PlayerID
	s.cur = next
	subs := append([]chan PlaybackState(nil), s.subs...)
	s.mu.Unlock()

	if playerChanged && s.bridge != nil {
		if err := s.bridge.SetPlayer(next.PlayerID); err != nil {
			s.log.Warn("failed to record active player", zap.Error(err))
		}
	}
	fanOut(subs, next)
}

func (s *Synchronizer) publishVolume(app kodi.AppProperties) {
	s.mu.Lock()
	s.cur.Volume = app.Volume
	s.cur.Muted = app.Muted
	snapshot := s.cur
	subs := append([]chan PlaybackState(nil), s.subs...)
	s.mu.Unlock()
	fanOut(subs, snapshot)
}

// clear resets to "nothing playing", drops the cached per-media
// descriptors, and erases the shared player entry.
func (s *Synchronizer) clear() {
	s.mu.Lock()
	wasActive := s.cur.Active
	s.cur = PlaybackState{LastUpdated: s.now()}
	s.lastFile = ""
	s.aux = auxDetails{}
	snapshot := s.cur
	subs := append([]chan PlaybackState(nil), s.subs...)
	s.mu.Unlock()

	if wasActive && s.bridge != nil {
		if err := s.bridge.ClearPlayer(); err != nil {
			s.log.Warn("failed to clear shared player entry", zap.Error(err))
		}
	}
	fanOut(subs, snapshot)
}

// Clear publishes the empty state. The dispatcher uses it after a
// successful stop command.
func (s *Synchronizer) Clear() {
	s.clear()
}

// MarkIntent records the cooldown timestamp. Dispatchers call it before
// sending any command that affects play/pause or position.
func (s *Synchronizer) MarkIntent() {
	now := s.now()
	s.mu.Lock()
	s.cooldownAt = now
	s.mu.Unlock()
	if s.bridge != nil {
		if err := s.bridge.SetCooldown(now); err != nil {
			s.log.Warn("failed to record cooldown", zap.Error(err))
		}
	}
}

// ApplyLocal publishes a locally predicted state mutation. The mutation
// runs under the synchronizer's lock.
func (s *Synchronizer) ApplyLocal(mut func(*PlaybackState)) {
	now := s.now()
	s.mu.Lock()
	// Roll the snapshot forward first so the position/lastUpdated pair
	// stays consistent for mutations that do not touch position.
	s.cur.Position = s.cur.Extrapolated(now)
	mut(&s.cur)
	s.cur.LastUpdated = now
	snapshot := s.cur
	subs := append([]chan PlaybackState(nil), s.subs...)
	s.mu.Unlock()
	fanOut(subs, snapshot)
}

// RequestRefresh runs an immediate full refresh, used after commands whose
// outcome cannot be predicted locally. A failure leaves the previous state
// in place, as with any refresh.
func (s *Synchronizer) RequestRefresh(ctx context.Context) error {
	return s.refresh(ctx, fullRefresh)
}

func (s *Synchronizer) setMode(m Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *Synchronizer) trackConn(st events.State) {
	s.mu.Lock()
	s.conn = st
	s.mu.Unlock()
}

func fanOut(subs []chan PlaybackState, snapshot PlaybackState) {
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func itemTitle(item kodi.Item) string {
	if item.Title != "" {
		return item.Title
	}
	return item.Label
}

func itemSubtitle(item kodi.Item) string {
	if len(item.Artist) > 0 {
		return strings.Join(item.Artist, ", ")
	}
	if item.ShowTitle != "" {
		return item.ShowTitle
	}
	return item.Album
}
