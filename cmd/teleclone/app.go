package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/blockedby/teleclone/internal/config"
	"github.com/blockedby/teleclone/internal/events"
	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/media"
	"github.com/blockedby/teleclone/internal/telegram"
	"github.com/blockedby/teleclone/internal/topics"
	"github.com/blockedby/teleclone/internal/transfer"
)

// app holds what every subcommand shares: configuration, the logger and
// a lazily connected telegram client.
type app struct {
	logLevel string

	cfg *config.Config
	log *logger.Logger
	fs  afero.Fs

	manager *telegram.Manager
	tg      *telegram.Client
	flood   *telegram.FloodPolicy
	events  *events.Client
}

func (a *app) setup() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	a.cfg = cfg
	a.log = logger.Get()
	a.fs = afero.NewOsFs()
	a.flood = telegram.NewFloodPolicy(time.Duration(cfg.FloodDefaultWaitSec)*time.Second, a.log)
	return nil
}

// connect restores the session and returns the client.
func (a *app) connect(ctx context.Context) (*telegram.Client, error) {
	if a.tg != nil {
		return a.tg, nil
	}

	var db *gorm.DB
	if a.cfg.TGSessionStr == "" {
		var err error
		db, err = telegram.OpenSessionDB(a.cfg.TGSessionFile)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	a.manager = telegram.NewManager(a.cfg, db)
	if err := a.manager.Init(ctx); err != nil {
		return nil, err
	}
	if a.manager.GetStatus() != telegram.StatusReady {
		return nil, fmt.Errorf("%w: set TG_SESSION_STRING or log in with TG_PHONE", telegram.ErrNotAuthorized)
	}

	a.tg = telegram.NewClient(a.manager, telegram.NewRateLimiter(a.cfg.TGRPS, 1))
	return a.tg, nil
}

func (a *app) close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.tg != nil {
		a.tg.Close()
	}
	if a.log != nil {
		_ = a.log.Close()
	}
}

func (a *app) uploadConfig() media.UploadConfig {
	return media.UploadConfig{
		PartSize:         a.cfg.UploadPartKB * 1024,
		FallbackPartSize: a.cfg.UploadFallbackPartKB * 1024,
		Retries:          a.cfg.UploadRetries,
	}
}

func (a *app) resolver(tg *telegram.Client) *topics.Resolver {
	return topics.NewResolver(tg, a.flood, a.log)
}

// engine wires a transfer engine. Relay events are published when
// NATS_URL is set; a broker that cannot be reached only disables them.
func (a *app) engine(ctx context.Context, tg *telegram.Client) *transfer.Engine {
	relay := media.NewRelayer(tg, a.flood, media.Options{
		Upload:         a.uploadConfig(),
		SpoolFs:        a.fs,
		SpoolDir:       a.cfg.SpoolDir,
		SpoolThreshold: a.cfg.SpoolThresholdBytes(),
	}, a.log)
	e := transfer.NewEngine(tg, relay, a.resolver(tg), a.flood, a.log)

	if a.cfg.NatsURL != "" {
		if ec, err := a.eventsClient(ctx); err != nil {
			a.log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else {
			e.SetPublisher(events.NewNATSPublisher(ec.Conn))
		}
	}
	return e
}

func (a *app) eventsClient(ctx context.Context) (*events.Client, error) {
	if a.events != nil {
		return a.events, nil
	}
	if a.cfg.NatsURL == "" {
		return nil, fmt.Errorf("NATS_URL is not set")
	}
	ec, err := events.New(ctx, a.cfg.NatsURL)
	if err != nil {
		return nil, err
	}
	if err := ec.EnsureStream(ctx); err != nil {
		ec.Close()
		return nil, err
	}
	a.events = ec
	return ec, nil
}

// peers resolves the positional conversation references.
func (a *app) peers(ctx context.Context, tg *telegram.Client, refs ...string) ([]telegram.Peer, error) {
	out := make([]telegram.Peer, 0, len(refs))
	for _, ref := range refs {
		var p telegram.Peer
		err := a.flood.Do(ctx, "resolve", func(ctx context.Context) (err error) {
			p, err = tg.ResolvePeer(ctx, ref)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", ref, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// optionalInt returns the flag value only when it was given.
func optionalInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return nil
	}
	return &v
}
