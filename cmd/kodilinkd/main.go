package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kodilink/internal/app"
	"kodilink/internal/bridge"
	"kodilink/internal/command"
	"kodilink/internal/config"
	"kodilink/internal/events"
	"kodilink/internal/kodi"
	"kodilink/internal/logging"
	"kodilink/internal/mirror"
	"kodilink/internal/state"
	"kodilink/internal/wol"
)

func main() {
	var (
		configPath string
		hostID     string
		logLevel   string
		logFormat  string
		dryRun     bool
		wake       bool
	)

	defaultConfig, err := config.DefaultPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&hostID, "host", "", "host id override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (console|json)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.BoolVar(&wake, "wake", false, "send a wake-on-lan packet before connecting")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if hostID != "" {
		cfg.CurrentHost = hostID
	}

	host, err := cfg.Current()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if dryRun {
		return
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("kodilinkd starting",
		zap.String("host", host.ID),
		zap.String("address", host.Address),
		zap.Int("http_port", host.HTTPPort),
		zap.Int("events_port", host.EventsPort),
		zap.Bool("mirror", cfg.Mirror.Enabled),
	)

	if wake {
		if host.MAC == "" {
			logger.Warn("wake requested but host has no mac configured")
		} else if err := wol.Wake(host.MAC, ""); err != nil {
			logger.Warn("wake-on-lan failed", zap.Error(err))
		} else {
			logger.Info("magic packet sent", zap.String("mac", host.MAC))
		}
	}

	store, err := bridge.NewStore()
	if err != nil {
		logger.Error("session store unavailable", zap.Error(err))
		os.Exit(1)
	}
	secrets, err := bridge.NewSecrets()
	if err != nil {
		logger.Error("credential store unavailable", zap.Error(err))
		os.Exit(1)
	}

	// The session record carries a credential reference, never the secret
	// itself. Other processes resolve the reference through the credential
	// store.
	if host.Password != "" {
		if err := secrets.Set(host.ID, host.Password); err != nil {
			logger.Error("failed to store credential", zap.Error(err))
			os.Exit(1)
		}
	}
	if err := store.SetHost(bridge.Session{
		HostID:     host.ID,
		Address:    host.Address,
		HTTPPort:   host.HTTPPort,
		EventsPort: host.EventsPort,
		Username:   host.Username,
		SecretRef:  host.ID,
	}); err != nil {
		logger.Error("failed to record session", zap.Error(err))
		os.Exit(1)
	}

	client := kodi.NewClient(host.Address, host.HTTPPort, host.Username, host.Password, kodi.DefaultTimeout)
	stream := events.NewManager(logger, host.Address, host.EventsPort, client.Ping, events.Options{})
	sync := state.NewSynchronizer(logger, client, stream, store, state.Config{})

	runners := []app.Runner{{Name: "state_sync", Run: sync.Run}}

	if cfg.Mirror.Enabled {
		broker := cfg.Mirror.Broker
		if cfg.Mirror.Embedded.Enabled {
			listen := cfg.Mirror.Embedded.Listen
			if listen == "" {
				listen = "127.0.0.1:1883"
			}
			brokerCfg := mirror.BrokerConfig{
				Listen:         listen,
				AllowAnonymous: cfg.Mirror.Embedded.AllowAnonymous,
				Username:       cfg.Mirror.Embedded.Username,
				Password:       cfg.Mirror.Embedded.Password,
				TLSCA:          cfg.Mirror.Embedded.TLSCA,
				TLSCert:        cfg.Mirror.Embedded.TLSCert,
				TLSKey:         cfg.Mirror.Embedded.TLSKey,
			}
			emb, err := mirror.NewBroker(logger.With(zap.String("component", "embedded_broker")), brokerCfg)
			if err != nil {
				logger.Error("embedded broker setup failed", zap.Error(err))
				os.Exit(1)
			}
			if broker == "" {
				broker = mirror.BrokerURL(listen, brokerCfg.TLSEnabled())
			}
			if err := startEmbeddedBroker(ctx, emb, logger, cancel, listen); err != nil {
				logger.Error("embedded broker failed", zap.Error(err))
				os.Exit(1)
			}
		}

		mod, err := mirror.NewModule(logger, mirror.Config{
			HostID:    host.ID,
			HostName:  host.Name,
			Broker:    broker,
			TopicBase: cfg.Mirror.TopicBase,
			Username:  cfg.Mirror.Username,
			Password:  cfg.Mirror.Password,
		}, sync.Subscribe(), nil)
		if err != nil {
			logger.Error("mirror setup failed", zap.Error(err))
			os.Exit(1)
		}
		mod.SetCommands(command.NewDispatcher(logger, client, sync))
		runners = append(runners, app.Runner{Name: "mirror", Run: mod.Run})
	}

	supervisor := app.Supervisor{Log: logger}
	err = supervisor.Run(ctx, runners)

	// Session teardown clears playback entries; host identity and the
	// credential store survive for the next run.
	if clearErr := store.ClearPlayer(); clearErr != nil {
		logger.Warn("failed to clear session player", zap.Error(clearErr))
	}

	if err != nil {
		logger.Error("supervisor error", zap.Error(err))
		os.Exit(1)
	}
}

func startEmbeddedBroker(ctx context.Context, b *mirror.Broker, logger *zap.Logger, cancel context.CancelFunc, listen string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Run(ctx)
	}()
	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded broker exited", zap.Error(err))
			cancel()
		}
	}()
	return waitForListen(listen, 3*time.Second)
}

func waitForListen(listen string, timeout time.Duration) error {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return err
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, port)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("embedded broker not ready at %s", addr)
}
