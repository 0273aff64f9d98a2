package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"kodilink/internal/state"
)

// BaseTopic is the default topic prefix for mirrored state.
const BaseTopic = "kodilink/v1"

// TopicPresence builds the presence topic for a host.
func TopicPresence(base, hostID string) string {
	return fmt.Sprintf("%s/host/%s/presence", base, hostID)
}

// TopicState builds the state topic for a host.
func TopicState(base, hostID string) string {
	return fmt.Sprintf("%s/host/%s/state", base, hostID)
}

// TopicCommand builds the command intake topic for a host.
func TopicCommand(base, hostID string) string {
	return fmt.Sprintf("%s/host/%s/cmd", base, hostID)
}

// Publisher abstracts the MQTT operations the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Subscriber is implemented by publishers that can also consume topics.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// Commands is the dispatcher surface driven by the command intake topic.
type Commands interface {
	PlayPause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	SeekBy(ctx context.Context, offset time.Duration) error
	SeekPercent(ctx context.Context, percent float64) error
	SetVolume(ctx context.Context, level int) error
	SetMute(ctx context.Context, mute bool) error
}

// Config configures the state mirror.
type Config struct {
	HostID    string
	HostName  string
	Broker    string
	TopicBase string
	Username  string
	Password  string
	Timeout   time.Duration
}

// Module republishes the authoritative playback state as retained MQTT
// messages for external consumers (dashboards, automations) and, when a
// dispatcher is attached, accepts transport commands on the command topic.
// State writes always go through the dispatcher, never directly.
type Module struct {
	log    *zap.Logger
	cfg    Config
	pub    Publisher
	states <-chan state.PlaybackState
	cmds   Commands
}

// NewModule creates a mirror consuming the given state subscription. pub
// may be nil, in which case Run connects its own client to cfg.Broker.
func NewModule(log *zap.Logger, cfg Config, states <-chan state.PlaybackState, pub Publisher) (*Module, error) {
	if cfg.Broker == "" && pub == nil {
		return nil, fmt.Errorf("mirror broker is required")
	}
	if cfg.TopicBase == "" {
		cfg.TopicBase = BaseTopic
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Module{
		log:    log.With(zap.String("module", "mirror")),
		cfg:    cfg,
		pub:    pub,
		states: states,
	}, nil
}

// SetCommands attaches the dispatcher driven by the command topic.
func (m *Module) SetCommands(cmds Commands) {
	m.cmds = cmds
}

// Run connects to the broker and mirrors every published state until ctx
// is done.
func (m *Module) Run(ctx context.Context) error {
	if m.pub == nil {
		client, err := connect(m.cfg)
		if err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		defer client.close()
		m.pub = client
	}

	if err := m.publishPresence(); err != nil {
		m.log.Warn("failed to publish presence", zap.Error(err))
	}

	if m.cmds != nil {
		if sub, ok := m.pub.(Subscriber); ok {
			topic := TopicCommand(m.cfg.TopicBase, m.cfg.HostID)
			err := sub.Subscribe(topic, 1, func(_ string, payload []byte) {
				m.handleCommand(ctx, payload)
			})
			if err != nil {
				m.log.Warn("command intake unavailable", zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-m.states:
			if !ok {
				return nil
			}
			if err := m.publishState(st); err != nil {
				m.log.Debug("failed to mirror state", zap.Error(err))
			}
		}
	}
}

func (m *Module) publishPresence() error {
	payload, err := json.Marshal(map[string]any{
		"hostId": m.cfg.HostID,
		"name":   m.cfg.HostName,
		"kind":   "media_center",
		"ts":     time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return m.pub.Publish(TopicPresence(m.cfg.TopicBase, m.cfg.HostID), 1, true, payload)
}

type statePayload struct {
	Active     bool   `json:"active"`
	Status     string `json:"status"`
	MediaType  string `json:"mediaType,omitempty"`
	Title      string `json:"title,omitempty"`
	Subtitle   string `json:"subtitle,omitempty"`
	PositionMS int64  `json:"positionMs"`
	DurationMS int64  `json:"durationMs"`
	Speed      int    `json:"speed"`
	Volume     int    `json:"volume"`
	Muted      bool   `json:"muted"`
	VideoCodec string `json:"videoCodec,omitempty"`
	AudioCodec string `json:"audioCodec,omitempty"`
	HDRType    string `json:"hdrType,omitempty"`
	TS         int64  `json:"ts"`
}

func (m *Module) publishState(st state.PlaybackState) error {
	status := "stopped"
	if st.Active {
		status = "paused"
		if st.Speed != 0 {
			status = "playing"
		}
	}
	payload, err := json.Marshal(statePayload{
		Active:     st.Active,
		Status:     status,
		MediaType:  st.MediaType,
		Title:      st.Title,
		Subtitle:   st.Subtitle,
		PositionMS: st.Position.Milliseconds(),
		DurationMS: st.Duration.Milliseconds(),
		Speed:      st.Speed,
		Volume:     st.Volume,
		Muted:      st.Muted,
		VideoCodec: st.VideoCodec,
		AudioCodec: st.AudioCodec,
		HDRType:    st.HDRType,
		TS:         time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return m.pub.Publish(TopicState(m.cfg.TopicBase, m.cfg.HostID), 1, true, payload)
}

type commandPayload struct {
	Action   string  `json:"action"`
	OffsetMS int64   `json:"offsetMs"`
	Percent  float64 `json:"percent"`
	Level    int     `json:"level"`
	Mute     bool    `json:"mute"`
}

// handleCommand routes one command topic message through the dispatcher.
// Malformed or unknown payloads are dropped.
func (m *Module) handleCommand(ctx context.Context, payload []byte) {
	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.log.Debug("dropping malformed command", zap.Error(err))
		return
	}

	var err error
	switch cmd.Action {
	case "toggle", "playpause":
		err = m.cmds.PlayPause(ctx)
	case "stop":
		err = m.cmds.Stop(ctx)
	case "next":
		err = m.cmds.Next(ctx)
	case "prev", "previous":
		err = m.cmds.Prev(ctx)
	case "seek":
		err = m.cmds.SeekBy(ctx, time.Duration(cmd.OffsetMS)*time.Millisecond)
	case "seek_percent":
		err = m.cmds.SeekPercent(ctx, cmd.Percent)
	case "volume":
		err = m.cmds.SetVolume(ctx, cmd.Level)
	case "mute":
		err = m.cmds.SetMute(ctx, cmd.Mute)
	default:
		m.log.Debug("ignoring unknown command", zap.String("action", cmd.Action))
		return
	}
	if err != nil {
		m.log.Warn("command failed", zap.String("action", cmd.Action), zap.Error(err))
	}
}

// pahoClient adapts the paho client to the Publisher interface.
type pahoClient struct {
	client  paho.Client
	timeout time.Duration
}

func connect(cfg Config) (*pahoClient, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("kodilinkd-%d", time.Now().UnixNano()))
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &pahoClient{client: client, timeout: cfg.Timeout}, nil
}

func (c *pahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("publish timeout on %s", topic)
	}
	return token.Error()
}

func (c *pahoClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("subscribe timeout on %s", topic)
	}
	return token.Error()
}

func (c *pahoClient) close() {
	c.client.Disconnect(250)
}
