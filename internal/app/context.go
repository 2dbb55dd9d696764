package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"studioflow/internal/catalog"
	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	"studioflow/internal/notify"
	"studioflow/internal/repo"
)

// Options selects the store and configuration a process runs against.
type Options struct {
	Workspace  string
	Driver     string
	DSN        string
	ConfigPath string
	Logger     *slog.Logger
	// Offline skips building notifiers; used by one-shot CLI commands that
	// must not reach the network.
	Offline bool
}

// Context is the wired runtime shared by the CLI commands and the server:
// a migrated store, the loaded catalog and an engine with its notifiers.
type Context struct {
	DB      *db.DB
	Config  *config.Config
	Engine  engine.Engine
	Logger  *slog.Logger
	closers []io.Closer
}

// Open migrates the store, seeds the catalog from configuration and builds
// the engine.
func Open(ctx context.Context, opts Options) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Driver: opts.Driver, DSN: opts.DSN, Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	c := &Context{DB: conn, Config: cfg, Logger: logger}
	if err := c.init(ctx, opts); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Context) init(ctx context.Context, opts Options) error {
	applied, err := migrate.Migrate(ctx, c.DB)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		c.Logger.Info("applied migrations", "count", applied, "dialect", c.DB.Dialect)
	}
	if err := catalog.Seed(ctx, c.DB, c.Config, time.Now()); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	cat, err := catalog.Load(ctx, c.DB, config.PhaseCount)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	e := engine.New(c.DB, cat)
	e.Logger = c.Logger
	if !opts.Offline {
		n, closers, err := Notifiers(c.Config.Notifications, e.Repo, c.Logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, closers...)
		e.Notifier = n
	}
	c.Engine = e
	return nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.Load(opts.Workspace)
}

// Notifiers builds the configured notification targets behind a recipient
// dispatcher. It returns nil when nothing is configured.
func Notifiers(cfg config.Notifications, r repo.Repo, logger *slog.Logger) (notify.Notifier, []io.Closer, error) {
	var (
		targets notify.Multi
		closers []io.Closer
	)
	if mailer := notify.NewMailer(cfg.SMTP); mailer.IsConfigured() {
		targets = append(targets, mailer)
		logger.Debug("email notifications enabled", "host", cfg.SMTP.Host)
	}
	if cfg.Redis.URL != "" {
		pub, err := notify.NewRedisPublisher(cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, pub)
		closers = append(closers, pub)
		logger.Debug("redis notifications enabled", "channel", cfg.Redis.Channel)
	}
	targets = append(targets, notify.NewWebhooks(cfg.Webhooks)...)
	if len(targets) == 0 {
		return nil, closers, nil
	}
	return notify.Dispatcher{Directory: r, Next: targets}, closers, nil
}

func (c *Context) Close() error {
	var errs []error
	for _, cl := range c.closers {
		errs = append(errs, cl.Close())
	}
	if c.DB != nil {
		errs = append(errs, c.DB.Close())
	}
	return errors.Join(errs...)
}
