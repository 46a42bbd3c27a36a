package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/subcommands"

	"github.com/trogers1052/stock-ingest-pipeline/internal/api"
	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/ingest"
	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
	"github.com/trogers1052/stock-ingest-pipeline/internal/scheduler"
)

// exitFor maps a startup error to an exit status. Configuration problems are
// usage errors; anything else is a failure.
func exitFor(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if apperrors.IsConfiguration(err) {
		return subcommands.ExitUsageError
	}
	return subcommands.ExitFailure
}

type runCmd struct {
	configPath *string
	date       string
	timeout    time.Duration
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "ingest daily prices for every configured symbol once" }
func (*runCmd) Usage() string {
	return `stock-ingest run [-date YYYY-MM-DD] [-timeout d]

  Fetches, parses and stores each symbol, then verifies the run date.
  Per-symbol failures are reported but do not change the exit status.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "date to verify (defaults to today)")
	f.DurationVar(&c.timeout, "timeout", 0, "run budget (defaults to RUN_TIMEOUT)")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var date models.Date
	if c.date != "" {
		d, err := models.ParseDate(c.date)
		if err != nil {
			return exitFor(&apperrors.ConfigurationError{Field: "date", Message: err.Error()})
		}
		date = d
	}

	a, err := newApp(ctx, *c.configPath)
	if err != nil {
		return exitFor(err)
	}
	defer a.Close()

	timeout := c.timeout
	if timeout == 0 {
		timeout = a.cfg.Schedule.RunTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var report *models.RunReport
	if date.IsZero() {
		report, err = a.pipeline.Run(ctx, a.cfg.Symbols)
	} else {
		report, err = a.pipeline.RunForDate(ctx, date, a.cfg.Symbols)
	}
	if err != nil {
		return exitFor(err)
	}

	if err := writeReport(os.Stdout, report); err != nil {
		return exitFor(err)
	}
	return subcommands.ExitSuccess
}

func writeReport(w io.Writer, report *models.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

type migrateCmd struct {
	configPath *string
	down       bool
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "apply or roll back database migrations" }
func (*migrateCmd) Usage() string {
	return `stock-ingest migrate [-down]

  Applies all pending migrations for the configured engine.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.down, "down", false, "roll back every migration")
}

func (c *migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, log, err := loadConfig(*c.configPath)
	if err != nil {
		return exitFor(err)
	}
	defer log.Sync()

	db, err := openDB(cfg, log)
	if err != nil {
		return exitFor(err)
	}
	defer db.Close()

	if c.down {
		if err := db.MigrateDown(); err != nil {
			return exitFor(err)
		}
	}

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		return exitFor(err)
	}
	log.Emit(logger.InfoLevel, "Migrations complete", logger.F("version", version), logger.F("dirty", dirty))
	return subcommands.ExitSuccess
}

type serveCmd struct {
	configPath *string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the read-only ops API" }
func (*serveCmd) Usage() string {
	return `stock-ingest serve

  Serves prices, verification reports and run status over HTTP.
`
}

func (*serveCmd) SetFlags(*flag.FlagSet) {}

func (c *serveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(ctx, *c.configPath)
	if err != nil {
		return exitFor(err)
	}
	defer a.Close()

	if err := serve(ctx, a); err != nil {
		return exitFor(err)
	}
	return subcommands.ExitSuccess
}

// serve runs the HTTP API until ctx is done
func serve(ctx context.Context, a *app) error {
	handler := api.NewHandler(a.db, a.verifier, a.pipeline, a.runStatus(), a.cfg.Symbols, a.log, api.WithLatestCache(a.latest))
	srv := &http.Server{
		Addr:              a.cfg.Server.Address(),
		Handler:           api.SetupRoutes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Emit(logger.InfoLevel, "HTTP server listening", logger.F("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	a.log.Emit(logger.InfoLevel, "Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

type scheduleCmd struct {
	configPath *string
	withAPI    bool
	runNow     bool
}

func (*scheduleCmd) Name() string     { return "schedule" }
func (*scheduleCmd) Synopsis() string { return "run the pipeline on the configured cron schedule" }
func (*scheduleCmd) Usage() string {
	return `stock-ingest schedule [-api] [-now]

  Runs the pipeline at SCHEDULE_CRON (six fields, with seconds), each run
  bounded by RUN_TIMEOUT. Only one run is active at a time: a tick, -now or
  POST /api/v1/runs arriving while a run is in progress is skipped.
`
}

func (c *scheduleCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.withAPI, "api", false, "also serve the ops API")
	f.BoolVar(&c.runNow, "now", false, "run once immediately before waiting for the schedule")
}

func (c *scheduleCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp(ctx, *c.configPath)
	if err != nil {
		return exitFor(err)
	}
	defer a.Close()

	job := func(ctx context.Context) {
		_, err := a.pipeline.Run(ctx, a.cfg.Symbols)
		switch {
		case errors.Is(err, ingest.ErrRunInProgress):
			a.log.Emit(logger.WarnLevel, "Scheduled run skipped, another run is in progress")
		case err != nil:
			a.log.Emit(logger.ErrorLevel, "Scheduled run did not start", logger.Err(err))
		}
	}

	s := scheduler.New(ctx, a.cfg.Schedule.RunTimeout, a.log)
	if err := s.Register(a.cfg.Schedule.Cron, "ingest", job); err != nil {
		return exitFor(&apperrors.ConfigurationError{Field: "SCHEDULE_CRON", Message: err.Error()})
	}
	s.Start()
	defer s.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	if c.runNow {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.RunNow("ingest"); err != nil {
				a.log.Emit(logger.ErrorLevel, "Immediate run failed", logger.Err(err))
			}
		}()
	}

	if c.withAPI {
		if err := serve(ctx, a); err != nil {
			return exitFor(err)
		}
		return subcommands.ExitSuccess
	}

	<-ctx.Done()
	return subcommands.ExitSuccess
}
