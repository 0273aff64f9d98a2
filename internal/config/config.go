package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for kodilink.
type Config struct {
	CurrentHost string       `toml:"current_host"`
	Log         LogConfig    `toml:"log"`
	Hosts       []Host       `toml:"hosts"`
	Mirror      MirrorConfig `toml:"mirror"`
}

// LogConfig describes logging options.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Host describes one media-center host. Identity is the stable id; at most
// one host is current at a time.
type Host struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Address    string `toml:"address"`
	HTTPPort   int    `toml:"http_port"`
	EventsPort int    `toml:"events_port"`
	Username   string `toml:"username"`
	Password   string `toml:"password"`
	MAC        string `toml:"mac"`
}

// MirrorConfig configures the optional MQTT state mirror.
type MirrorConfig struct {
	Enabled   bool           `toml:"enabled"`
	Broker    string         `toml:"broker"`
	TopicBase string         `toml:"topic_base"`
	Username  string         `toml:"username"`
	Password  string         `toml:"password"`
	Embedded  EmbeddedConfig `toml:"embedded"`
}

// EmbeddedConfig configures the embedded broker used when no external one
// is available.
type EmbeddedConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// Load reads a config file from path.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	for i := range cfg.Hosts {
		cfg.Hosts[i] = cfg.Hosts[i].withDefaults()
	}
	return cfg, nil
}

// DefaultPath returns the default config location.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kodilink", "kodilink.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kodilink", "kodilink.toml"), nil
}

// HostByID looks up a host by its stable id.
func (c Config) HostByID(id string) (Host, bool) {
	for _, h := range c.Hosts {
		if h.ID == id {
			return h, true
		}
	}
	return Host{}, false
}

// Current returns the host marked current, or the only configured host
// when no selection is set.
func (c Config) Current() (Host, error) {
	if c.CurrentHost != "" {
		if h, ok := c.HostByID(c.CurrentHost); ok {
			return h, nil
		}
		return Host{}, fmt.Errorf("current_host %q not in hosts", c.CurrentHost)
	}
	if len(c.Hosts) == 1 {
		return c.Hosts[0], nil
	}
	return Host{}, errors.New("no current host configured")
}

func (h Host) withDefaults() Host {
	if h.HTTPPort == 0 {
		h.HTTPPort = 8080
	}
	if h.EventsPort == 0 {
		h.EventsPort = 9090
	}
	if h.ID == "" {
		h.ID = h.Address
	}
	return h
}
