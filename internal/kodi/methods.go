package kodi

import (
	"context"
	"encoding/json"
	"time"
)

// BaseProperties covers every refresh except the expensive per-file
// descriptors.
var BaseProperties = []string{
	"time", "totaltime", "speed",
	"currentaudiostream", "audiostreams",
	"subtitleenabled", "currentsubtitle", "subtitles",
}

// ProgressProperties is the minimal set for the slow progress poll.
var ProgressProperties = []string{"time", "totaltime", "speed"}

// SubtitleProperties covers the subtitle track listing.
var SubtitleProperties = []string{"subtitleenabled", "currentsubtitle", "subtitles"}

// VideoStreamProperty is only worth querying when the media file changes.
var VideoStreamProperty = []string{"currentvideostream"}

// BaseItemProperties identify and label the current item.
var BaseItemProperties = []string{"title", "artist", "showtitle", "album", "file"}

// DetailItemProperties add the per-file stream descriptors.
var DetailItemProperties = []string{"title", "artist", "showtitle", "album", "file", "streamdetails"}

// Ping checks server liveness.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.Call(ctx, "JSONRPC.Ping", nil)
	if err != nil {
		return err
	}
	var pong string
	if err := json.Unmarshal(res, &pong); err != nil {
		return invalidResponse(err)
	}
	if pong != "pong" {
		return &Error{Kind: ErrInvalidResponse, Message: "unexpected ping reply " + pong}
	}
	return nil
}

// ActivePlayers lists the players currently holding an item.
func (c *Client) ActivePlayers(ctx context.Context) ([]Player, error) {
	res, err := c.Call(ctx, "Player.GetActivePlayers", nil)
	if err != nil {
		return nil, err
	}
	var players []Player
	if err := json.Unmarshal(res, &players); err != nil {
		return nil, invalidResponse(err)
	}
	return players, nil
}

// PlayerProperties queries the requested property set of a player.
func (c *Client) PlayerProperties(ctx context.Context, playerID int, props []string) (Properties, error) {
	res, err := c.Call(ctx, "Player.GetProperties", map[string]any{
		"playerid":   playerID,
		"properties": props,
	})
	if err != nil {
		return Properties{}, err
	}
	var out Properties
	if err := json.Unmarshal(res, &out); err != nil {
		return Properties{}, invalidResponse(err)
	}
	return out, nil
}

// PlayerItem queries the current item of a player with the given item
// properties.
func (c *Client) PlayerItem(ctx context.Context, playerID int, props []string) (Item, error) {
	res, err := c.Call(ctx, "Player.GetItem", map[string]any{
		"playerid":   playerID,
		"properties": props,
	})
	if err != nil {
		return Item{}, err
	}
	var out struct {
		Item Item `json:"item"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return Item{}, invalidResponse(err)
	}
	return out.Item, nil
}

// PlayPause toggles playback and returns the new speed reported by the
// server (0 when paused).
func (c *Client) PlayPause(ctx context.Context, playerID int) (int, error) {
	res, err := c.Call(ctx, "Player.PlayPause", map[string]any{"playerid": playerID})
	if err != nil {
		return 0, err
	}
	var out struct {
		Speed int `json:"speed"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return 0, invalidResponse(err)
	}
	return out.Speed, nil
}

// Stop ends playback on a player.
func (c *Client) Stop(ctx context.Context, playerID int) error {
	_, err := c.Call(ctx, "Player.Stop", map[string]any{"playerid": playerID})
	return err
}

// SeekTime seeks to an absolute position.
func (c *Client) SeekTime(ctx context.Context, playerID int, position time.Duration) error {
	_, err := c.Call(ctx, "Player.Seek", map[string]any{
		"playerid": playerID,
		"value":    map[string]any{"time": NewTime(position)},
	})
	return err
}

// SeekPercent seeks to an absolute percentage of the duration.
func (c *Client) SeekPercent(ctx context.Context, playerID int, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, err := c.Call(ctx, "Player.Seek", map[string]any{
		"playerid": playerID,
		"value":    map[string]any{"percentage": percent},
	})
	return err
}

// GoTo jumps to the next or previous item. to must be "next" or "previous".
func (c *Client) GoTo(ctx context.Context, playerID int, to string) error {
	_, err := c.Call(ctx, "Player.GoTo", map[string]any{
		"playerid": playerID,
		"to":       to,
	})
	return err
}

// SetAudioStream selects an audio track by index.
func (c *Client) SetAudioStream(ctx context.Context, playerID int, index int) error {
	_, err := c.Call(ctx, "Player.SetAudioStream", map[string]any{
		"playerid": playerID,
		"stream":   index,
	})
	return err
}

// SetSubtitle selects a subtitle track by index, or disables subtitles
// when enable is false.
func (c *Client) SetSubtitle(ctx context.Context, playerID int, index int, enable bool) error {
	params := map[string]any{"playerid": playerID}
	if enable {
		params["subtitle"] = index
		params["enable"] = true
	} else {
		params["subtitle"] = "off"
	}
	_, err := c.Call(ctx, "Player.SetSubtitle", params)
	return err
}

// ApplicationProperties queries the application volume and mute flag.
func (c *Client) ApplicationProperties(ctx context.Context) (AppProperties, error) {
	res, err := c.Call(ctx, "Application.GetProperties", map[string]any{
		"properties": []string{"volume", "muted"},
	})
	if err != nil {
		return AppProperties{}, err
	}
	var out AppProperties
	if err := json.Unmarshal(res, &out); err != nil {
		return AppProperties{}, invalidResponse(err)
	}
	return out, nil
}

// SetVolume sets the application volume (0-100) and returns the level the
// server settled on.
func (c *Client) SetVolume(ctx context.Context, level int) (int, error) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	res, err := c.Call(ctx, "Application.SetVolume", map[string]any{"volume": level})
	if err != nil {
		return 0, err
	}
	var out int
	if err := json.Unmarshal(res, &out); err != nil {
		return 0, invalidResponse(err)
	}
	return out, nil
}

// SetMute sets the application mute flag and returns the resulting state.
func (c *Client) SetMute(ctx context.Context, mute bool) (bool, error) {
	res, err := c.Call(ctx, "Application.SetMute", map[string]any{"mute": mute})
	if err != nil {
		return false, err
	}
	var out bool
	if err := json.Unmarshal(res, &out); err != nil {
		return false, invalidResponse(err)
	}
	return out, nil
}
