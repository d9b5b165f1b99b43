package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sbilibin2017/cbr-rates-loader/internal/logger"
	"github.com/sbilibin2017/cbr-rates-loader/internal/models"
	"github.com/sbilibin2017/cbr-rates-loader/internal/services"
)

// Importer runs day and range imports.
type Importer interface {
	ImportDay(ctx context.Context, date time.Time, skipIfAnyExists bool) (services.ImportResult, error) // Imports a single day
	ImportRange(ctx context.Context, from, to time.Time, skipIfAnyExists bool) error                    // Imports a date range inclusive
}

// SchemaReadier brings storage to a usable state before imports start.
type SchemaReadier interface {
	EnsureReady(ctx context.Context) error // Blocks until the schema is ready or the retry budget is exhausted
}

// Config holds the resolved run options for the Runner.
type Config struct {
	Daemon           bool      // Keep running and import daily after the initial window
	From             time.Time // Explicit range start, zero when not given
	To               time.Time // Explicit range end, zero when not given
	BackfillDays     int       // Initial window length when no explicit range is given
	RunHour          int       // Local hour of the daily run
	RunMinute        int       // Local minute of the daily run
	Timezone         string    // Timezone identifier for "today" and the daily run time
	SkipExistingDays bool      // Backfill skip behavior for days that already have rates
}

// timezoneAliases maps platform-specific identifiers onto ones the IANA
// database knows, so a config written for another platform still resolves.
var timezoneAliases = map[string]string{
	"Russian Standard Time":   "Europe/Moscow",
	"W. Europe Standard Time": "Europe/Berlin",
	"GMT Standard Time":       "Europe/London",
}

// ResolveLocation resolves a timezone identifier through a degradation
// ladder: the requested id, its platform alias, then UTC. It never fails.
func ResolveLocation(id string) *time.Location {
	candidates := []string{id}
	if alias, ok := timezoneAliases[id]; ok {
		candidates = append(candidates, alias)
	}

	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc
		}
	}

	logger.Log.Warnw("timezone not resolved, falling back to UTC", "timezone", id)
	return time.UTC
}

// NextRunAfter computes the next daily run instant strictly after now:
// today at hour:minute if that is still ahead, otherwise tomorrow.
// Using time.Date keeps the arithmetic correct across DST transitions.
func NextRunAfter(now time.Time, hour, minute int) time.Time {
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

// Runner orchestrates the pipeline: readiness gate, initial import window,
// then (in daemon mode) an indefinite sleep/import loop.
type Runner struct {
	importer Importer
	migrator SchemaReadier
	cfg      Config
	loc      *time.Location
	now      func() time.Time // injected clock, time.Now in production
}

// NewRunner creates a Runner. The timezone is resolved once, up front.
func NewRunner(importer Importer, migrator SchemaReadier, cfg Config) *Runner {
	return &Runner{
		importer: importer,
		migrator: migrator,
		cfg:      cfg,
		loc:      ResolveLocation(cfg.Timezone),
		now:      time.Now,
	}
}

// Run executes the pipeline until done (one-shot) or cancelled (daemon).
// Startup failures (schema never ready, initial import failed) are returned;
// per-cycle failures inside the daemon loop are logged and absorbed.
func (r *Runner) Run(ctx context.Context) error {
	mode := "once"
	if r.cfg.Daemon {
		mode = "daemon"
	}
	logger.Log.Infow("starting", "mode", mode, "timezone", r.loc.String())

	if err := r.migrator.EnsureReady(ctx); err != nil {
		return fmt.Errorf("preparing storage: %w", err)
	}

	today := models.DateOnly(r.now().In(r.loc))

	from, to, skip := r.initialWindow(today)
	logger.Log.Infow("initial import window",
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
		"skip_existing", skip,
	)

	if err := r.importer.ImportRange(ctx, from, to, skip); err != nil {
		return fmt.Errorf("initial import: %w", err)
	}

	if !r.cfg.Daemon {
		logger.Log.Infow("initial import finished, exiting")
		return nil
	}

	return r.loop(ctx)
}

// initialWindow resolves the initial import range: explicit bounds when
// given (never skipped), otherwise the trailing backfill window ending today.
func (r *Runner) initialWindow(today time.Time) (from, to time.Time, skip bool) {
	if !r.cfg.From.IsZero() || !r.cfg.To.IsZero() {
		from, to = models.DateOnly(r.cfg.From), models.DateOnly(r.cfg.To)
		if r.cfg.From.IsZero() {
			from = to
		}
		if r.cfg.To.IsZero() {
			to = today
		}
		if from.After(to) {
			from, to = to, from
		}
		return from, to, false
	}

	days := r.cfg.BackfillDays
	if days < 1 {
		days = 1
	}
	return today.AddDate(0, 0, -(days - 1)), today, r.cfg.SkipExistingDays
}

// loop sleeps until the configured local run time, imports the (then
// current) day, and repeats until cancelled. A failed daily import never
// terminates the loop.
func (r *Runner) loop(ctx context.Context) error {
	logger.Log.Infow("daemon loop active",
		"run_time", fmt.Sprintf("%02d:%02d", r.cfg.RunHour, r.cfg.RunMinute),
		"timezone", r.loc.String(),
	)

	for {
		now := r.now().In(r.loc)
		next := NextRunAfter(now, r.cfg.RunHour, r.cfg.RunMinute)

		delay := next.Sub(now)
		if delay < 0 {
			delay = 0
		}
		logger.Log.Infow("next daily import scheduled", "at", next.Format(time.RFC3339), "in", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Log.Infow("daemon loop cancelled")
			return nil
		case <-timer.C:
		}

		runDate := models.DateOnly(r.now().In(r.loc))
		if _, err := r.importer.ImportDay(ctx, runDate, false); err != nil {
			logger.Log.Errorw("daily import failed, retrying next cycle",
				"date", runDate.Format("2006-01-02"), "error", err)
		}
	}
}
