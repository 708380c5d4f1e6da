package cli

import (
	"context"
	"fmt"

	"github.com/ticketdesk/reportd/internal/archive"
	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/database"
	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/mailer"
	"github.com/ticketdesk/reportd/internal/realtime"
	"github.com/ticketdesk/reportd/internal/report"
	"github.com/ticketdesk/reportd/internal/scheduler"
	"github.com/ticketdesk/reportd/internal/tickets"
)

// app holds the wired service components shared by the commands.
type app struct {
	cfg     *config.Config
	db      *database.DB
	store   *scheduler.Store
	execs   *executions.Store
	archive *archive.Archive
	broker  *realtime.Broker
	sched   *scheduler.Scheduler
}

// appDeps are the collaborators that talk to other services.
type appDeps struct {
	tickets interface {
		scheduler.TicketSource
		scheduler.CompanyDirectory
	}
	mailer mailer.Sender
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	client := tickets.NewClient(cfg.Tickets)
	return buildApp(ctx, cfg, appDeps{tickets: client, mailer: mailer.New(cfg.Email)})
}

func buildApp(ctx context.Context, cfg *config.Config, deps appDeps) (*app, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a, err := wire(ctx, cfg, db, deps)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg *config.Config, db *database.DB, deps appDeps) (*app, error) {
	filters, err := tickets.NewFilterEngine()
	if err != nil {
		return nil, fmt.Errorf("creating filter engine: %w", err)
	}

	validator, err := scheduler.NewValidator(filters, cfg.Email.AllowedRecipients)
	if err != nil {
		return nil, fmt.Errorf("creating validator: %w", err)
	}

	renderer, err := report.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("creating renderer: %w", err)
	}

	arch, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		store:   scheduler.NewStore(db, validator, deps.tickets),
		execs:   executions.NewStore(db),
		archive: arch,
	}

	var listeners []executions.Listener
	if cfg.Realtime.Enabled {
		a.broker = realtime.NewBroker(cfg.Realtime)
		listeners = append(listeners, a.broker.Listener())
	}

	var archiver scheduler.Archiver
	if arch != nil {
		archiver = arch
	}

	runner := scheduler.NewRunner(scheduler.RunnerConfig{
		Store:         a.store,
		Recorder:      executions.NewRecorder(a.execs, listeners...),
		Tickets:       deps.tickets,
		Filters:       filters,
		Renderer:      renderer,
		Mailer:        deps.mailer,
		Archive:       archiver,
		TicketTimeout: cfg.Tickets.Timeout,
		EmailTimeout:  cfg.Email.Timeout,
	})

	a.sched = scheduler.New(cfg.Scheduler, a.store, a.execs, runner)
	return a, nil
}

func (a *app) Close() error {
	if a.broker != nil {
		a.broker.Stop()
	}
	return a.db.Close()
}

// openDB opens the database for commands that only read or prune history.
func openDB(cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}
