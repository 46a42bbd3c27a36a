// Package verifier runs the read-only completeness and quality check after
// a pipeline run. Missing symbols and null prices are findings, not errors.
package verifier

import (
	"context"
	"sort"

	"github.com/trogers1052/stock-ingest-pipeline/internal/logger"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

// Repository is the read side the verifier needs
type Repository interface {
	CountBySymbol(ctx context.Context, date models.Date) (map[string]int, error)
	NullPriceCountBySymbol(ctx context.Context, date models.Date) (map[string]int, error)
	CountForDate(ctx context.Context, date models.Date) (int, error)
}

// Verifier checks one day of stored data
type Verifier struct {
	repo Repository
	log  logger.Emitter
}

// New creates a Verifier
func New(repo Repository, e logger.Emitter) *Verifier {
	return &Verifier{repo: repo, log: logger.OrNop(e)}
}

// Verify reports, for date, which expected symbols have no rows, how many
// rows per symbol have a null price, and the total row count. It only
// returns an error when storage cannot be read.
func (v *Verifier) Verify(ctx context.Context, date models.Date, expected []string) (*models.VerificationReport, error) {
	present, err := v.repo.CountBySymbol(ctx, date)
	if err != nil {
		v.log.Emit(logger.ErrorLevel, "Database error during verification", logger.Err(err))
		return nil, err
	}

	report := &models.VerificationReport{
		Date:        date,
		Present:     present,
		Missing:     []string{},
		NullRecords: map[string]int{},
	}

	for _, symbol := range expected {
		n, ok := present[symbol]
		if !ok {
			report.Missing = append(report.Missing, symbol)
			continue
		}
		v.log.Emit(logger.InfoLevel, "Symbol data points for date",
			logger.F("symbol", symbol), logger.F("date", date.String()), logger.F("data_points", n))
	}
	if len(report.Missing) > 0 {
		v.log.Emit(logger.WarnLevel, "Missing data for symbols",
			logger.F("date", date.String()), logger.F("symbols", report.Missing))
	} else {
		v.log.Emit(logger.InfoLevel, "All expected symbols have data", logger.F("date", date.String()))
	}

	nulls, err := v.repo.NullPriceCountBySymbol(ctx, date)
	if err != nil {
		v.log.Emit(logger.ErrorLevel, "Database error during verification", logger.Err(err))
		return nil, err
	}
	report.NullRecords = nulls
	if len(nulls) == 0 {
		v.log.Emit(logger.InfoLevel, "No NULL values found in critical fields", logger.F("date", date.String()))
	}
	for _, symbol := range sortedKeys(nulls) {
		v.log.Emit(logger.WarnLevel, "Records with NULL values",
			logger.F("symbol", symbol), logger.F("date", date.String()), logger.F("null_records", nulls[symbol]))
	}

	total, err := v.repo.CountForDate(ctx, date)
	if err != nil {
		v.log.Emit(logger.ErrorLevel, "Database error during verification", logger.Err(err))
		return nil, err
	}
	report.Total = total
	v.log.Emit(logger.InfoLevel, "Total records for date", logger.F("date", date.String()), logger.F("total", total))

	return report, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
