// Package daemon wires configuration, logging, the session server, the
// admin API and scheduled maintenance into one runnable unit.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tvshift/tvshift/internal/config"
	adminhttp "github.com/tvshift/tvshift/internal/http"
	"github.com/tvshift/tvshift/internal/session"
	"github.com/tvshift/tvshift/internal/timeshift"
	"github.com/tvshift/tvshift/internal/version"
)

// Daemon is the assembled tvshift server process.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *session.Registry
	sessions *session.Server
	admin    *adminhttp.Server
	cron     *cron.Cron
}

// New assembles a daemon from configuration. Nothing is bound or
// started until Run.
func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}

	tsCfg := timeshift.Config{
		Dir:        cfg.Timeshift.Dir,
		BufferSize: cfg.Timeshift.BufferSize.Bytes(),
		QueueDepth: cfg.Timeshift.QueueDepth,
	}
	registry := session.NewRegistry(tsCfg, logger)

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		sessions: session.NewServer(cfg.Server, registry, logger),
	}

	if cfg.Admin.Enabled {
		d.admin = adminhttp.NewServer(cfg.Admin, logger, version.Version)
		adminhttp.NewStatusHandler(registry, cfg.Timeshift.Dir, logger).Register(d.admin.API())
	}

	return d
}

// Registry exposes the session registry, primarily for tests.
func (d *Daemon) Registry() *session.Registry {
	return d.registry
}

// SessionAddr returns the bound session listener address, nil before Run.
func (d *Daemon) SessionAddr() net.Addr {
	return d.sessions.Addr()
}

// AdminAddr returns the bound admin listener address, nil before Run or
// when the admin API is disabled.
func (d *Daemon) AdminAddr() net.Addr {
	if d.admin == nil {
		return nil
	}
	return d.admin.Addr()
}

// Run starts every component and blocks until the context is cancelled
// or a component fails. Shutdown is graceful: listeners close, active
// sessions are torn down and their backing files removed.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting tvshift",
		slog.String("version", version.Short()),
		slog.String("timeshift_dir", d.cfg.Timeshift.Dir),
		slog.String("buffer_size", d.cfg.Timeshift.BufferSize.String()),
	)

	// Files left behind by a previous run are unreadable garbage; clear
	// them before the first session lands.
	removed := timeshift.RemoveOrphans(d.cfg.Timeshift.Dir, nil, d.logger)
	if removed > 0 {
		d.logger.Info("startup sweep removed orphaned buffers", slog.Int("count", removed))
	}

	if err := d.scheduleSweep(); err != nil {
		return err
	}

	if err := d.sessions.Listen(); err != nil {
		return err
	}
	if d.admin != nil {
		if err := d.admin.Listen(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.sessions.Serve(ctx)
	})

	if d.admin != nil {
		g.Go(func() error {
			return d.admin.Serve(ctx)
		})
	}

	if d.cron != nil {
		d.cron.Start()
		g.Go(func() error {
			<-ctx.Done()
			<-d.cron.Stop().Done()
			return nil
		})
	}

	err := g.Wait()
	d.logger.Info("tvshift stopped")
	return err
}

// scheduleSweep registers the periodic orphan sweep. Active sessions'
// files are excluded so a sweep can never race a live buffer.
func (d *Daemon) scheduleSweep() error {
	schedule := d.cfg.Timeshift.SweepSchedule
	if schedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		timeshift.RemoveOrphans(d.cfg.Timeshift.Dir, d.registry.ActiveFiles(), d.logger)
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	d.cron = c
	return nil
}
