package kodi

import (
	"encoding/json"
	"time"
)

// Player is one entry from Player.GetActivePlayers.
type Player struct {
	PlayerID int    `json:"playerid"`
	Type     string `json:"type"`
}

// Time is the hours/minutes/seconds object the player API uses for
// positions and durations.
type Time struct {
	Hours        int `json:"hours"`
	Minutes      int `json:"minutes"`
	Seconds      int `json:"seconds"`
	Milliseconds int `json:"milliseconds"`
}

// NewTime converts a duration into the wire representation. Negative
// durations are treated as zero.
func NewTime(d time.Duration) Time {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	total := ms / 1000
	return Time{
		Hours:        int(total / 3600),
		Minutes:      int((total % 3600) / 60),
		Seconds:      int(total % 60),
		Milliseconds: int(ms % 1000),
	}
}

// Duration converts the wire representation back to a duration.
func (t Time) Duration() time.Duration {
	return time.Duration(t.Hours)*time.Hour +
		time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Seconds)*time.Second +
		time.Duration(t.Milliseconds)*time.Millisecond
}

// AudioStream describes one audio track of the current item.
type AudioStream struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Codec    string `json:"codec"`
	Channels int    `json:"channels"`
}

// Subtitle describes one subtitle track of the current item.
type Subtitle struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// VideoStream describes the active video stream, including the HDR
// descriptor when the server reports one.
type VideoStream struct {
	Index   int    `json:"index"`
	Codec   string `json:"codec"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	HDRType string `json:"hdrtype"`
}

// Properties is the result of Player.GetProperties. Only the requested
// fields are populated.
type Properties struct {
	Time               Time          `json:"time"`
	TotalTime          Time          `json:"totaltime"`
	Speed              int           `json:"speed"`
	CurrentAudioStream AudioStream   `json:"currentaudiostream"`
	AudioStreams       []AudioStream `json:"audiostreams"`
	SubtitleEnabled    bool          `json:"subtitleenabled"`
	CurrentSubtitle    Subtitle      `json:"currentsubtitle"`
	Subtitles          []Subtitle    `json:"subtitles"`
	CurrentVideoStream VideoStream   `json:"currentvideostream"`
}

// AudioDetails is a per-file audio stream summary from streamdetails.
type AudioDetails struct {
	Codec    string `json:"codec"`
	Channels int    `json:"channels"`
}

// VideoDetails is a per-file video stream summary from streamdetails.
type VideoDetails struct {
	Codec   string `json:"codec"`
	HDRType string `json:"hdrtype"`
}

// StreamDetails carries the expensive per-file stream descriptors.
type StreamDetails struct {
	Audio []AudioDetails `json:"audio"`
	Video []VideoDetails `json:"video"`
}

// Item is the result of Player.GetItem.
type Item struct {
	Type          string         `json:"type"`
	Label         string         `json:"label"`
	Title         string         `json:"title"`
	Artist        []string       `json:"artist"`
	ShowTitle     string         `json:"showtitle"`
	Album         string         `json:"album"`
	File          string         `json:"file"`
	StreamDetails *StreamDetails `json:"streamdetails,omitempty"`
}

// AppProperties is the result of Application.GetProperties.
type AppProperties struct {
	Volume int  `json:"volume"`
	Muted  bool `json:"muted"`
}

// Notification is a server-pushed frame without a request id.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}
