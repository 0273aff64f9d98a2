package command

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"kodilink/internal/state"
)

// ErrNoActivePlayer is returned when a command needs a player and none is
// active.
var ErrNoActivePlayer = errors.New("no active player")

// Caller is the subset of the RPC client the dispatcher sends through.
type Caller interface {
	PlayPause(ctx context.Context, playerID int) (int, error)
	Stop(ctx context.Context, playerID int) error
	GoTo(ctx context.Context, playerID int, to string) error
	SeekTime(ctx context.Context, playerID int, position time.Duration) error
	SeekPercent(ctx context.Context, playerID int, percent float64) error
	SetAudioStream(ctx context.Context, playerID int, index int) error
	SetSubtitle(ctx context.Context, playerID int, index int, enable bool) error
	SetVolume(ctx context.Context, level int) (int, error)
	SetMute(ctx context.Context, mute bool) (bool, error)
}

// Dispatcher sends transport commands and publishes optimistic state
// updates before the server confirms. Failures are reported to the caller
// and never retried here.
type Dispatcher struct {
	log  *zap.Logger
	rpc  Caller
	sync *state.Synchronizer
	now  func() time.Time
}

// NewDispatcher creates a dispatcher bound to one synchronizer.
func NewDispatcher(log *zap.Logger, rpc Caller, sync *state.Synchronizer) *Dispatcher {
	return &Dispatcher{
		log:  log.With(zap.String("module", "command")),
		rpc:  rpc,
		sync: sync,
		now:  time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// PlayPause toggles playback and publishes the speed the server returned.
func (d *Dispatcher) PlayPause(ctx context.Context) error {
	cur := d.sync.Current()
	if !cur.Active {
		return ErrNoActivePlayer
	}
	pos := cur.Extrapolated(d.now())

	d.sync.MarkIntent()
	speed, err := d.rpc.PlayPause(ctx, cur.PlayerID)
	if err != nil {
		return err
	}
	d.sync.ApplyLocal(func(s *state.PlaybackState) {
		s.Position = pos
		s.Speed = speed
	})
	return nil
}

// Stop ends playback and publishes the empty state.
func (d *Dispatcher) Stop(ctx context.Context) error {
	cur := d.sync.Current()
	if !cur.Active {
		return ErrNoActivePlayer
	}
	d.sync.MarkIntent()
	if err := d.rpc.Stop(ctx, cur.PlayerID); err != nil {
		return err
	}
	d.sync.Clear()
	return nil
}

// Next skips to the next item. The outcome cannot be predicted locally, so
// a full refresh follows instead of an optimistic update.
func (d *Dispatcher) Next(ctx context.Context) error {
	return d.goTo(ctx, "next")
}

// Prev skips to the previous item.
func (d *Dispatcher) Prev(ctx context.Context) error {
	return d.goTo(ctx, "previous")
}

func (d *Dispatcher) goTo(ctx context.Context, to string) error {
	cur := d.sync.Current()
	if !cur.Active {
		return ErrNoActivePlayer
	}
	if err := d.rpc.GoTo(ctx, cur.PlayerID, to); err != nil {
		return err
	}
	if err := d.sync.RequestRefresh(ctx); err != nil {
		d.log.Debug("follow-up refresh failed", zap.Error(err))
	}
	return nil
}

// SeekBy seeks relative to the extrapolated position, clamped to the item
// duration, and publishes the predicted position.
func (d *Dispatcher) SeekBy(ctx context.Context, offset time.Duration) error {
	cur := d.sync.Current()
	if !cur.Active {
		return ErrNoActivePlayer
	}
	target := cur.Extrapolated(d.now()) + offset
	if target < 0 {
		target = 0
	}
	if cur.Duration > 0 && target > cur.Duration {
		target = cur.Duration
	}

	d.sync.MarkIntent()
	if err := d.rpc.SeekTime(ctx, cur.PlayerID, target); err != nil {
		return err
	}
	d.sync.ApplyLocal(func(s *state.PlaybackState) {
		s.Position = target
	})
	return nil
}

// SeekPercent seeks to an absolute percentage. The prediction is less
// reliable than a relative offset, so a full refresh follows the
// optimistic update.
func (d *Dispatcher) SeekPercent(ctx context.Context, percent float64) error {
	cur := d.sync.Current()
	if !cur.Active {
		return ErrNoActivePlayer
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	d.sync.MarkIntent()
	if err := d.rpc.SeekPercent(ctx, cur.PlayerID, percent); err != nil {
		return err
	}
	predicted := time.Duration(float64(cur.Duration) * percent / 100)
	d.sync.ApplyLocal(func(s *state.PlaybackState) {
		s.Position = predicted
	})
	if err := d.sync.RequestRefresh(ctx); err != nil {
		d.log.Debug("follow-up refresh failed", zap.Error(err))
	}
	return nil
}

// SetAudioStream selects an audio track.
func (d *Dispatcher) SetAudioStream(ctx context.Context, index int) error {
	cur := d.sync.Current()
	if !cur.Active {
		return ErrNoActivePlayer
	}
	if err := d.rpc.SetAudioStream(ctx, cur.PlayerID, index); err != nil {
		return err
	}
	d.sync.ApplyLocal(func(s *state.PlaybackState) {
		s.CurrentAudio = index
	})
	return nil
}

// SetSubtitle selects a subtitle track, or disables subtitles when enable
// is false.
func (d *Dispatcher) SetSubtitle(ctx context.Context, index int, enable bool) error {
	cur := d.sync.Current()
	if !cur.Active {
		return ErrNoActivePlayer
	}
	if err := d.rpc.SetSubtitle(ctx, cur.PlayerID, index, enable); err != nil {
		return err
	}
	d.sync.ApplyLocal(func(s *state.PlaybackState) {
		s.CurrentSubtitle = index
		s.SubtitleEnabled = enable
	})
	return nil
}

// SetVolume sets the application volume and publishes the level the server
// settled on.
func (d *Dispatcher) SetVolume(ctx context.Context, level int) error {
	applied, err := d.rpc.SetVolume(ctx, level)
	if err != nil {
		return err
	}
	d.sync.ApplyLocal(func(s *state.PlaybackState) {
		s.Volume = applied
	})
	return nil
}

// SetMute sets the application mute flag.
func (d *Dispatcher) SetMute(ctx context.Context, mute bool) error {
	applied, err := d.rpc.SetMute(ctx, mute)
	if err != nil {
		return err
	}
	d.sync.ApplyLocal(func(s *state.PlaybackState) {
		s.Muted = applied
	})
	return nil
}
