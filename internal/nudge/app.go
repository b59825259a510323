// Package nudge wires the durable store, the notification scheduler, and the
// delivery backends into the App consumed by the CLI and the HTTP API.
package nudge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hay-kot/nudge/internal/core/clock"
	"github.com/hay-kot/nudge/internal/core/config"
	"github.com/hay-kot/nudge/internal/core/kv"
	"github.com/hay-kot/nudge/internal/core/logging"
	"github.com/hay-kot/nudge/internal/core/notify"
	"github.com/hay-kot/nudge/internal/data/db"
	"github.com/hay-kot/nudge/internal/data/stores"
)

// DataStore is the durable store as seen by the App: the kv.Store operations
// plus a full key listing and an all-or-nothing batch write.
type DataStore interface {
	kv.Store
	ListKeys(ctx context.Context) ([]string, error)
	SaveAll(ctx context.Context, values map[string][]byte) error
}

// App is the central entry point for all nudge operations.
// Commands and the HTTP API consume App instead of raw dependencies.
type App struct {
	Scheduler *Scheduler
	Audit     notify.AuditLog
	Clock     clock.Clock
	Config    *config.Config
	DB        *db.DB

	data DataStore
	log  zerolog.Logger
}

// NewApp constructs an App from explicit dependencies.
func NewApp(
	data DataStore,
	sched *Scheduler,
	audit notify.AuditLog,
	clk clock.Clock,
	cfg *config.Config,
	database *db.DB,
	log zerolog.Logger,
) *App {
	return &App{
		Scheduler: sched,
		Audit:     audit,
		Clock:     clk,
		Config:    cfg,
		DB:        database,
		data:      data,
		log:       log,
	}
}

// Open opens the database in cfg.DataDir and assembles an App around it. A
// database file that SQLite reports as corrupt is moved aside and replaced
// with an empty one. The scheduler is not started.
func Open(cfg *config.Config, clk clock.Clock, deliverer notify.Deliverer) (*App, error) {
	log := logging.Component("app")

	opts := db.OpenOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}

	database, err := db.Open(cfg.DataDir, opts)
	if err != nil && stores.IsCorruptionError(err) {
		log.Error().Err(err).Str("data_dir", cfg.DataDir).Msg("database corrupt, moving it aside")
		if rerr := stores.RecoverFromCorruption(cfg.DataDir); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		database, err = db.Open(cfg.DataDir, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	data := stores.NewKVStore(database)
	audit := stores.NewAuditStore(database)

	sched := NewScheduler(data, clk, deliverer, SchedulerOptions{
		Retry: RetryPolicy{
			MaxAttempts: cfg.Scheduler.MaxAttempts,
			BaseDelay:   cfg.Scheduler.RetryBase,
			MaxDelay:    cfg.Scheduler.RetryMax,
		},
		MaxSleep:        cfg.Scheduler.MaxSleep,
		DeliveryTimeout: cfg.Scheduler.DeliveryTimeout,
		Audit:           audit,
	}, logging.Component("scheduler"))

	return NewApp(data, sched, audit, clk, cfg, database, log), nil
}

// Close stops the scheduler, waiting for an in-flight delivery, then closes
// the database.
func (a *App) Close() error {
	a.log.Debug().Msg("closing")

	var errs []error
	if err := a.Scheduler.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close scheduler: %w", err))
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
