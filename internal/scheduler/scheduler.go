// Package scheduler runs the pipeline on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
)

// Job is one scheduled unit of work. ctx carries the per-run timeout.
type Job func(ctx context.Context)

// Scheduler manages cron tasks. A task still running when its next tick
// arrives is skipped rather than overlapped.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	timeout time.Duration
	log     logger.Emitter
	entries map[string]cron.EntryID
}

// New creates a Scheduler whose six-field specs include seconds. Each job
// run is bounded by timeout and cancelled with ctx.
func New(ctx context.Context, timeout time.Duration, log logger.Emitter) *Scheduler {
	log = logger.OrNop(log)
	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		cron:    c,
		ctx:     ctx,
		timeout: timeout,
		log:     log,
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds job under name at spec
func (s *Scheduler) Register(spec, name string, job Job) error {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	s.entries[name] = id
	s.log.Emit(logger.InfoLevel, "Task scheduled", logger.F("task", name), logger.F("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.log.Emit(logger.InfoLevel, "Task started", logger.F("task", name))
	job(ctx)
	s.log.Emit(logger.InfoLevel, "Task finished", logger.F("task", name), logger.F("duration", time.Since(start)))
}

// RunNow runs the registered task name immediately through the same job
// chain as its ticks, so it is skipped if a run is in progress and a tick
// arriving meanwhile is skipped too. It blocks until the task returns.
func (s *Scheduler) RunNow(name string) error {
	id, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("unknown task %s", name)
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return fmt.Errorf("task %s is no longer scheduled", name)
	}
	entry.WrappedJob.Run()
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Emit(logger.InfoLevel, "Scheduler started")
}

// Stop stops the scheduler and waits for running tasks to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Emit(logger.InfoLevel, "Scheduler stopped")
}

// cronLogger adapts an Emitter to cron.Logger
type cronLogger struct {
	log logger.Emitter
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Emit(logger.DebugLevel, "cron: "+msg, pairs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Emit(logger.ErrorLevel, "cron: "+msg, append(pairs(keysAndValues), logger.Err(err))...)
}

func pairs(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.F(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
