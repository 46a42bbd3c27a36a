// Package ingest drives fetch, parse and store for every configured symbol
// and runs verification once at the end. A failure stays with its symbol:
// the run moves on and reports it.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/fetcher"
	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

// verifyTimeout bounds verification and the final report publish when the
// run budget is already spent.
const verifyTimeout = 30 * time.Second

// ErrRunInProgress is returned when a run starts while another one on the
// same Pipeline has not finished.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Fetcher retrieves one raw payload per symbol
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (fetcher.Payload, error)
}

// Parser converts a raw payload into records
type Parser interface {
	Parse(payload map[string]json.RawMessage, symbol string) ([]models.StockPrice, error)
}

// Store persists one symbol's batch atomically
type Store interface {
	UpsertStockPrices(ctx context.Context, symbol string, prices []models.StockPrice) (int, error)
}

// Verifier checks completeness for the run date
type Verifier interface {
	Verify(ctx context.Context, date models.Date, expected []string) (*models.VerificationReport, error)
}

// Publisher receives outcomes as the run progresses. Failures are logged only.
type Publisher interface {
	PublishSymbolOutcome(ctx context.Context, runID string, outcome models.SymbolOutcome) error
	PublishRunCompleted(ctx context.Context, report *models.RunReport) error
}

// Pipeline is the unit an external scheduler invokes
type Pipeline struct {
	fetcher    Fetcher
	parser     Parser
	store      Store
	verifier   Verifier
	publishers []Publisher
	log        logger.Emitter
	now        func() time.Time

	// running admits one run at a time across every caller
	running sync.Mutex
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithPublisher adds an outcome publisher. Nil publishers are ignored.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		if pub != nil {
			p.publishers = append(p.publishers, pub)
		}
	}
}

// WithEmitter sets the event sink
func WithEmitter(e logger.Emitter) Option {
	return func(p *Pipeline) { p.log = logger.OrNop(e) }
}

// WithClock overrides time.Now, which also decides the run date
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New creates a Pipeline
func New(f Fetcher, parser Parser, s Store, v Verifier, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:  f,
		parser:   parser,
		store:    s,
		verifier: v,
		log:      logger.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes symbols for today's date.
func (p *Pipeline) Run(ctx context.Context, symbols []string) (*models.RunReport, error) {
	return p.RunForDate(ctx, models.DateOf(p.now()), symbols)
}

// RunForDate processes every symbol in order and verifies date afterwards.
// It returns an error only when no symbol can be started at all, including
// ErrRunInProgress when another run holds the Pipeline. When ctx expires,
// symbols not yet started are left PENDING.
func (p *Pipeline) RunForDate(ctx context.Context, date models.Date, symbols []string) (*models.RunReport, error) {
	if len(symbols) == 0 {
		return nil, &apperrors.ConfigurationError{Field: "STOCK_SYMBOLS", Message: "no symbols configured"}
	}
	if p.fetcher == nil || p.parser == nil || p.store == nil {
		return nil, &apperrors.ConfigurationError{Message: "pipeline is missing a fetcher, parser or store"}
	}
	if !p.running.TryLock() {
		p.log.Emit(logger.WarnLevel, "Run skipped, another run is in progress", logger.F("date", date.String()))
		return nil, ErrRunInProgress
	}
	defer p.running.Unlock()

	report := &models.RunReport{
		RunID:     uuid.NewString(),
		Date:      date,
		StartedAt: p.now(),
		Outcomes:  make([]models.SymbolOutcome, len(symbols)),
	}
	for i, symbol := range symbols {
		report.Outcomes[i] = models.SymbolOutcome{Symbol: symbol, State: models.StatePending}
	}

	p.log.Emit(logger.InfoLevel, "Pipeline started",
		logger.F("run_id", report.RunID), logger.F("date", date.String()), logger.F("symbols", symbols))

	for i, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			p.log.Emit(logger.WarnLevel, "Run budget exhausted, remaining symbols not attempted",
				logger.F("run_id", report.RunID), logger.F("remaining", symbols[i:]), logger.Err(err))
			break
		}

		outcome := p.processSymbol(ctx, symbol)
		report.Outcomes[i] = outcome
		if outcome.State == models.StateDone {
			report.TotalRecords += outcome.Records
		}
		p.publishOutcome(ctx, report.RunID, outcome)
	}

	p.verify(ctx, report, symbols)
	report.FinishedAt = p.now()

	p.log.Emit(logger.InfoLevel, "Pipeline completed successfully",
		logger.F("run_id", report.RunID),
		logger.F("total_records", report.TotalRecords),
		logger.F("symbols_processed", len(symbols)),
		logger.F("succeeded", len(report.Succeeded())),
		logger.F("failed", len(report.Failed())))

	p.publishRun(ctx, report)
	return report, nil
}

// processSymbol walks one symbol through FETCHING, PARSING, STORING to DONE,
// or to FAILED from whichever step returned an error.
func (p *Pipeline) processSymbol(ctx context.Context, symbol string) (outcome models.SymbolOutcome) {
	outcome = models.SymbolOutcome{Symbol: symbol, State: models.StatePending}

	defer func() {
		if r := recover(); r != nil {
			outcome = p.fail(outcome, fmt.Errorf("panic: %v", r))
		}
	}()

	p.log.Emit(logger.InfoLevel, "Processing symbol", logger.F("symbol", symbol))

	p.transition(&outcome, models.StateFetching)
	payload, err := p.fetcher.Fetch(ctx, symbol)
	if err != nil {
		return p.fail(outcome, err)
	}

	p.transition(&outcome, models.StateParsing)
	records, err := p.parser.Parse(payload, symbol)
	if err != nil {
		return p.fail(outcome, err)
	}

	if len(records) == 0 {
		p.log.Emit(logger.WarnLevel, "No data to insert for symbol", logger.F("symbol", symbol))
		p.transition(&outcome, models.StateDone)
		return outcome
	}

	p.transition(&outcome, models.StateStoring)
	n, err := p.store.UpsertStockPrices(ctx, symbol, records)
	if err != nil {
		return p.fail(outcome, err)
	}

	outcome.Records = n
	p.transition(&outcome, models.StateDone)
	p.log.Emit(logger.InfoLevel, "Successfully processed symbol", logger.F("symbol", symbol), logger.F("records", n))
	return outcome
}

func (p *Pipeline) transition(o *models.SymbolOutcome, to models.SymbolState) {
	p.log.Emit(logger.DebugLevel, "Symbol state transition",
		logger.F("symbol", o.Symbol), logger.F("from", string(o.State)), logger.F("to", string(to)))
	o.State = to
}

func (p *Pipeline) fail(o models.SymbolOutcome, err error) models.SymbolOutcome {
	o.Stage = o.State
	o.Reason = err.Error()
	o.Records = 0
	p.transition(&o, models.StateFailed)
	p.log.Emit(logger.ErrorLevel, "Failed to process symbol",
		logger.F("symbol", o.Symbol), logger.F("stage", string(o.Stage)), logger.Err(err))
	return o
}

func (p *Pipeline) verify(ctx context.Context, report *models.RunReport, expected []string) {
	if p.verifier == nil {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
		defer cancel()
	}

	v, err := p.verifier.Verify(ctx, report.Date, expected)
	if err != nil {
		report.VerifyError = err.Error()
		p.log.Emit(logger.ErrorLevel, "Verification failed", logger.F("run_id", report.RunID), logger.Err(err))
		return
	}
	report.Verification = v
}

func (p *Pipeline) publishOutcome(ctx context.Context, runID string, outcome models.SymbolOutcome) {
	for _, pub := range p.publishers {
		if err := pub.PublishSymbolOutcome(ctx, runID, outcome); err != nil {
			p.log.Emit(logger.WarnLevel, "Failed to publish symbol outcome",
				logger.F("symbol", outcome.Symbol), logger.Err(err))
		}
	}
}

func (p *Pipeline) publishRun(ctx context.Context, report *models.RunReport) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
		defer cancel()
	}
	for _, pub := range p.publishers {
		if err := pub.PublishRunCompleted(ctx, report); err != nil {
			p.log.Emit(logger.WarnLevel, "Failed to publish run report",
				logger.F("run_id", report.RunID), logger.Err(err))
		}
	}
}
