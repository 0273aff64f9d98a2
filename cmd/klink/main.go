package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kodilink/internal/bridge"
	"kodilink/internal/config"
	"kodilink/internal/kodi"
)

// app is the per-invocation state shared by all subcommands. klink is a
// short-lived second context: it sends commands straight to the host and
// writes back only the command cooldown timestamp, leaving all other
// session fields to the daemon.
type app struct {
	client  *kodi.Client
	store   *bridge.Store
	session bridge.Session
	host    config.Host
	timeout time.Duration
}

func main() {
	root := &cobra.Command{
		Use:   "klink",
		Short: "Remote control for a kodilink media center",
	}

	var (
		configPath string
		hostID     string
		timeout    time.Duration
	)

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&hostID, "host", "", "host id override")
	root.PersistentFlags().DurationVarP(&timeout, "timeout", "t", kodi.DefaultTimeout, "command timeout")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(configPath, hostID, timeout)
		if err != nil {
			return err
		}
		cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
		return nil
	}

	root.AddCommand(toggleCommand())
	root.AddCommand(pauseCommand())
	root.AddCommand(stopCommand())
	root.AddCommand(nextCommand())
	root.AddCommand(prevCommand())
	root.AddCommand(seekCommand())
	root.AddCommand(statusCommand())
	root.AddCommand(volumeCommand())
	root.AddCommand(muteCommand())
	root.AddCommand(audioCommand())
	root.AddCommand(subtitleCommand())
	root.AddCommand(wakeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps transport error kinds onto distinct exit statuses so
// scripts can tell an unreachable host from a server-side refusal.
func exitCode(err error) int {
	kind, ok := kodi.KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case kodi.ErrNotConnected, kodi.ErrTimeout:
		return 2
	case kodi.ErrRPC:
		return 3
	case kodi.ErrHTTP:
		return 4
	default:
		return 1
	}
}

func buildApp(configPath, hostID string, timeout time.Duration) (*app, error) {
	if configPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = path
	}

	var host config.Host
	cfg, cfgErr := config.Load(configPath)
	if cfgErr == nil {
		if hostID != "" {
			cfg.CurrentHost = hostID
		}
		if h, err := cfg.Current(); err == nil {
			host = h
		}
	}

	store, err := bridge.NewStore()
	if err != nil {
		return nil, err
	}
	session, hasSession, err := store.Load()
	if err != nil {
		return nil, err
	}

	// Prefer the live session the daemon recorded; fall back to config
	// when no daemon has run yet.
	if hasSession && session.HostID != "" && (hostID == "" || session.HostID == hostID) {
		password := ""
		if session.SecretRef != "" {
			secrets, err := bridge.NewSecrets()
			if err != nil {
				return nil, err
			}
			if secret, ok, err := secrets.Get(session.SecretRef); err != nil {
				return nil, err
			} else if ok {
				password = secret
			}
		}
		if host.ID == "" {
			host = config.Host{
				ID:       session.HostID,
				Address:  session.Address,
				HTTPPort: session.HTTPPort,
				Username: session.Username,
			}
		}
		return &app{
			client:  kodi.NewClient(session.Address, session.HTTPPort, session.Username, password, timeout),
			store:   store,
			session: session,
			host:    host,
			timeout: timeout,
		}, nil
	}

	if host.ID == "" {
		if cfgErr != nil {
			return nil, fmt.Errorf("no active session and config unavailable: %w", cfgErr)
		}
		return nil, fmt.Errorf("no active session and no current host configured")
	}
	return &app{
		client:  kodi.NewClient(host.Address, host.HTTPPort, host.Username, host.Password, timeout),
		store:   store,
		session: session,
		host:    host,
		timeout: timeout,
	}, nil
}

type appKey struct{}

func fromContext(cmd *cobra.Command) *app {
	val := cmd.Context().Value(appKey{})
	if val == nil {
		return nil
	}
	return val.(*app)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// activePlayer resolves the target player, preferring the id the daemon
// recorded over an extra round trip.
func (a *app) activePlayer(ctx context.Context) (int, error) {
	if a.session.PlayerID != nil {
		return *a.session.PlayerID, nil
	}
	players, err := a.client.ActivePlayers(ctx)
	if err != nil {
		return 0, err
	}
	if len(players) == 0 {
		return 0, fmt.Errorf("no active player")
	}
	return players[0].PlayerID, nil
}

// markCooldown is the only write this context performs on the shared
// session record. The command still goes out when the write fails, but
// the daemon will not suppress its next poll, so the user hears about it.
func (a *app) markCooldown() {
	if err := a.store.SetCooldown(time.Now()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cooldown not recorded: %v\n", err)
	}
}
