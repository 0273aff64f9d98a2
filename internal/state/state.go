package state

import (
	"time"

	"kodilink/internal/kodi"
)

// PlaybackState is the authoritative view of what the host is playing.
// Position is a snapshot taken at LastUpdated; callers extrapolate the
// live position with Extrapolated while Speed is nonzero.
type PlaybackState struct {
	Active   bool
	PlayerID int

	MediaType string
	Title     string
	Subtitle  string
	File      string

	Duration time.Duration
	Position time.Duration
	Speed    int

	Volume int
	Muted  bool

	AudioStreams    []kodi.AudioStream
	CurrentAudio    int
	Subtitles       []kodi.Subtitle
	CurrentSubtitle int
	SubtitleEnabled bool

	VideoCodec string
	AudioCodec string
	HDRType    string

	LastUpdated time.Time
}

// Playing reports whether playback is advancing.
func (s PlaybackState) Playing() bool {
	return s.Active && s.Speed != 0
}

// Extrapolated returns the position at now, clamped to [0, Duration].
func (s PlaybackState) Extrapolated(now time.Time) time.Duration {
	if !s.Active || s.Speed == 0 {
		return s.Position
	}
	pos := s.Position + now.Sub(s.LastUpdated)*time.Duration(s.Speed)
	if pos < 0 {
		return 0
	}
	if s.Duration > 0 && pos > s.Duration {
		return s.Duration
	}
	return pos
}
