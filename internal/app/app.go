// Package app constructs medtrack's services once from configuration and
// runs the reminder daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gmsas95/medtrack/internal/api"
	"github.com/gmsas95/medtrack/internal/catalog"
	"github.com/gmsas95/medtrack/internal/clock"
	"github.com/gmsas95/medtrack/internal/config"
	"github.com/gmsas95/medtrack/internal/cron"
	"github.com/gmsas95/medtrack/internal/history"
	"github.com/gmsas95/medtrack/internal/notify"
	"github.com/gmsas95/medtrack/internal/store"
	"github.com/gmsas95/medtrack/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Config     *config.Config
	Store      store.KV
	Logger     *zap.Logger
	Clock      clock.Clock
	Location   *time.Location
	History    *history.Ledger
	Catalog    *catalog.Service
	Dispatcher *notify.Dispatcher
	Scheduler  *notify.LocalScheduler
	Reminders  *notify.Reminders
	Tracker    *tracker.Tracker
	Version    string
}

// Option customizes New
type Option func(*options)

type options struct {
	clock clock.Clock
	store store.KV
	sinks []notify.Sink
}

// WithClock replaces the system clock
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithStore uses kv instead of opening the configured backend
func WithStore(kv store.KV) Option {
	return func(o *options) { o.store = kv }
}

// WithSinks adds delivery sinks after the configured ones
func WithSinks(sinks ...notify.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// New opens the store and wires every service
func New(cfg *config.Config, logger *zap.Logger, version string, opts ...Option) (*App, error) {
	o := options{clock: clock.System{}}
	for _, opt := range opts {
		opt(&o)
	}

	kv := o.store
	if kv == nil {
		var err error
		kv, err = store.Open(cfg.Storage)
		if err != nil {
			return nil, err
		}
	}

	sinks := append([]notify.Sink{notify.NewLogSink(logger)}, o.sinks...)

	loc := cfg.Location()
	ledger := history.NewLedger(kv, o.clock, cfg.Tracker.HistoryLimit, logger)
	dispatcher := notify.NewDispatcher(logger, sinks...)
	scheduler := notify.NewLocalScheduler(dispatcher, o.clock, loc, cfg.Notifications.PermissionGranted, logger)

	return &App{
		Config:     cfg,
		Store:      kv,
		Logger:     logger,
		Clock:      o.clock,
		Location:   loc,
		History:    ledger,
		Catalog:    catalog.NewService(kv, ledger, o.clock, cfg.Tracker.ScanLimit, logger),
		Dispatcher: dispatcher,
		Scheduler:  scheduler,
		Reminders:  notify.NewReminders(scheduler, o.clock, loc, logger),
		Tracker:    tracker.New(kv, scheduler, ledger, o.clock, loc, TrackerConfig(cfg.Tracker), logger),
		Version:    version,
	}, nil
}

// remoteSinks connects the enabled chat sinks. Only the daemon delivers, so
// CLI commands never open these connections.
func remoteSinks(cfg config.NotificationsConfig, logger *zap.Logger) ([]notify.Sink, error) {
	var sinks []notify.Sink

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram sink: %w", err)
		}
		sinks = append(sinks, notify.Guard(tg, cfg.RatePerMinute, logger))
	}

	if cfg.Discord.Enabled {
		dc, err := notify.NewDiscordSink(cfg.Discord.Token, cfg.Discord.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("failed to create discord sink: %w", err)
		}
		sinks = append(sinks, notify.Guard(dc, cfg.RatePerMinute, logger))
	}

	return sinks, nil
}

// TrackerConfig converts the config file section into tracker thresholds
func TrackerConfig(tc config.TrackerConfig) tracker.Config {
	return tracker.Config{
		MissedThreshold: tc.MissedThreshold(),
		UpcomingWindow:  tc.UpcomingWindow(),
		AdherenceDays:   tc.AdherenceDays,
	}
}

// NewLogger builds the process logger. JSON format selects the production
// encoder.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}

	return zc.Build()
}

// Close releases the store
func (app *App) Close() error {
	return app.Store.Close()
}

// Sweep runs one missed-dose check and then SyncReminders
func (app *App) Sweep(ctx context.Context) error {
	missed, err := app.Tracker.CheckMissedDoses(ctx)
	for _, s := range missed {
		app.Logger.Info("Dose missed",
			zap.String("schedule_id", s.ID),
			zap.String("medicine_id", s.MedicineID),
			zap.String("scheduled_time", s.ScheduledTime),
		)
	}
	return multierr.Append(err, app.SyncReminders(ctx))
}

// SyncReminders brings this process's reminders in line with the store.
// CLI commands run in their own process, so the daemon picks up their
// changes here.
func (app *App) SyncReminders(ctx context.Context) error {
	if !app.Scheduler.PermissionGranted() {
		return nil
	}
	_, err := app.Tracker.ReconcileReminders(ctx)
	_, serr := app.SyncMedicineReminders(ctx)
	return multierr.Append(err, serr)
}

// ReminderSync counts the changes made by SyncMedicineReminders
type ReminderSync struct {
	Armed    int
	Released int
}

// SyncMedicineReminders keeps one refill reminder per medicine that asks
// for one and has a known stock, and one appointment reminder per medicine
// with a future doctor appointment. Reminders whose medicine is gone or no
// longer qualifies are cancelled. A refill reminder fires on the day the
// stock runs out and is armed again after it fires.
func (app *App) SyncMedicineReminders(ctx context.Context) (ReminderSync, error) {
	var res ReminderSync
	medicines, err := app.Catalog.GetAll(ctx)
	if err != nil {
		return res, err
	}
	pending, err := app.Reminders.GetAllScheduledReminders(ctx)
	if err != nil {
		return res, err
	}

	now := app.Clock.Now().In(app.Location)
	wantRefill := map[string]bool{}
	wantAppt := map[string]string{} // medicine id -> appointment, RFC 3339
	for _, m := range medicines {
		if m.RefillReminder && m.StockQuantity != nil && len(m.Times) > 0 {
			wantRefill[m.ID] = true
		}
		if appt, ok := m.AppointmentTime(app.Location); ok && m.DoctorName != "" &&
			app.Reminders.DoctorReminderTime(appt).After(now) {
			wantAppt[m.ID] = appt.Format(time.RFC3339)
		}
	}

	var errs error
	hasRefill := map[string]bool{}
	hasAppt := map[string]bool{}
	for _, p := range pending {
		id := p.Content.Data["medicineId"]
		keep := false
		switch p.Content.Data["type"] {
		case notify.KindRefill:
			keep = wantRefill[id] && !hasRefill[id]
			hasRefill[id] = hasRefill[id] || keep
		case notify.KindAppointment:
			keep = wantAppt[id] != "" && wantAppt[id] == p.Content.Data["appointmentDate"] && !hasAppt[id]
			hasAppt[id] = hasAppt[id] || keep
		default:
			continue
		}
		if keep {
			continue
		}
		if err := app.Reminders.CancelReminder(ctx, p.Handle); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cancel %s: %w", p.Handle, err))
			continue
		}
		res.Released++
	}

	for _, m := range medicines {
		if wantRefill[m.ID] && !hasRefill[m.ID] {
			daysLeft := *m.StockQuantity / len(m.Times)
			if daysLeft < 1 {
				daysLeft = 1
			}
			if _, err := app.Reminders.ScheduleRefillReminder(ctx, m.ID, m.Name, daysLeft); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("refill for %s: %w", m.ID, err))
			} else {
				res.Armed++
			}
		}
		if wantAppt[m.ID] != "" && !hasAppt[m.ID] {
			appt, _ := m.AppointmentTime(app.Location)
			if _, err := app.Reminders.ScheduleDoctorReminder(ctx, m.ID, m.DoctorName, appt); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("appointment for %s: %w", m.ID, err))
			} else {
				res.Armed++
			}
		}
	}

	if res.Armed > 0 || res.Released > 0 {
		app.Logger.Info("Medicine reminders synced",
			zap.Int("armed", res.Armed),
			zap.Int("released", res.Released),
		)
	}
	return res, errs
}

// ApplyTracker pushes a reloaded tracker section into the running services
func (app *App) ApplyTracker(tc config.TrackerConfig, runner *cron.Runner) {
	app.Tracker.SetConfig(TrackerConfig(tc))
	app.History.SetLimit(tc.HistoryLimit)
	app.Catalog.SetScanLimit(tc.ScanLimit)
	if runner != nil {
		if err := runner.SetInterval(tc.SweepInterval()); err != nil {
			app.Logger.Warn("Failed to apply sweep interval", zap.Error(err))
		}
	}
	app.Logger.Info("Tracker configuration reloaded",
		zap.Int("missed_threshold_minutes", tc.MissedThresholdMinutes),
		zap.Int("sweep_interval_minutes", tc.SweepIntervalMinutes),
	)
}

// RunDaemon starts reminder delivery, the missed-dose sweep and the health
// server, and blocks until SIGINT/SIGTERM.
func (app *App) RunDaemon() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

// Run is RunDaemon bounded by ctx instead of process signals
func (app *App) Run(ctx context.Context) error {
	sinks, err := remoteSinks(app.Config.Notifications, app.Logger)
	if err != nil {
		return err
	}
	app.Dispatcher.Add(sinks...)
	app.Scheduler.Start()

	if app.Config.Storage.Backend == "badger" {
		app.Logger.Warn("Badger storage is locked by the daemon; CLI commands will fail until it stops",
			zap.String("path", app.Config.Storage.BadgerPath))
	}

	if err := app.SyncReminders(ctx); err != nil {
		app.Logger.Warn("Some reminders could not be armed", zap.Error(err))
	}
	if stats, err := app.Reminders.Stats(ctx); err == nil {
		app.Logger.Info("Reminders armed", zap.Int("pending", stats.Scheduled))
	}

	runner := cron.NewRunner(cron.Config{
		Name:       "missed-dose-sweep",
		Interval:   app.Config.Tracker.SweepInterval(),
		RunAtStart: true,
		Timeout:    time.Minute,
		Location:   app.Location,
	}, app.Sweep, app.Logger)
	if err := runner.Start(); err != nil {
		return err
	}

	app.Config.WatchTracker(
		func(tc config.TrackerConfig) { app.ApplyTracker(tc, runner) },
		func(err error) { app.Logger.Warn("Ignoring invalid config change", zap.Error(err)) },
	)

	serverErr := make(chan error, 1)
	var server *api.Server
	if app.Config.Server.Enabled {
		server = api.New(app.Config.Server, app.Version, app.Logger)
		server.AddCheck("store", app.checkStore)
		go func() {
			serverErr <- server.Start()
		}()
	}

	app.Logger.Info("medtrack daemon started",
		zap.String("version", app.Version),
		zap.String("storage", app.Config.Storage.Backend),
		zap.Strings("sinks", app.Dispatcher.Sinks()),
		zap.Duration("sweep_interval", app.Config.Tracker.SweepInterval()),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("health server: %w", err)
		}
	}

	app.Logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	runner.Stop()
	if server != nil && runErr == nil {
		runErr = multierr.Append(runErr, server.Shutdown(shutdownCtx))
	}
	if err := app.Scheduler.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		runErr = multierr.Append(runErr, err)
	}
	return runErr
}

func (app *App) checkStore(ctx context.Context) error {
	_, err := store.LoadJSON[[]catalog.Medicine](ctx, app.Store, store.KeyMedicines)
	return err
}
