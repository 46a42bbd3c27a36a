package database

import (
	"context"
	"fmt"

	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

// CountBySymbol returns the number of rows per symbol stored for date
func (db *DB) CountBySymbol(ctx context.Context, date models.Date) (map[string]int, error) {
	return db.groupCount(ctx, "count by symbol", `
		SELECT symbol, COUNT(*) AS data_points
		FROM stock_prices
		WHERE timestamp = $1
		GROUP BY symbol
	`, date)
}

// NullPriceCountBySymbol returns, per symbol, the rows for date with any null price field
func (db *DB) NullPriceCountBySymbol(ctx context.Context, date models.Date) (map[string]int, error) {
	return db.groupCount(ctx, "null price count", `
		SELECT symbol, COUNT(*) AS null_records
		FROM stock_prices
		WHERE timestamp = $1
		AND (open IS NULL OR high IS NULL OR low IS NULL OR close IS NULL)
		GROUP BY symbol
	`, date)
}

// CountForDate returns the total rows stored for date
func (db *DB) CountForDate(ctx context.Context, date models.Date) (int, error) {
	var total int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_prices WHERE timestamp = $1`, date).Scan(&total)
	if err != nil {
		return 0, &apperrors.PersistenceError{Op: "count for date", Err: err}
	}
	return total, nil
}

func (db *DB) groupCount(ctx context.Context, op, query string, date models.Date) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, query, date)
	if err != nil {
		return nil, &apperrors.PersistenceError{Op: op, Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var symbol string
		var n int
		if err := rows.Scan(&symbol, &n); err != nil {
			return nil, &apperrors.PersistenceError{Op: op, Err: fmt.Errorf("failed to scan row: %w", err)}
		}
		counts[symbol] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &apperrors.PersistenceError{Op: op, Err: err}
	}
	return counts, nil
}
