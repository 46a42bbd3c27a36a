package database

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

const upsertStockPriceQuery = `
	INSERT INTO stock_prices (symbol, timestamp, open, high, low, close, volume, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
	ON CONFLICT (symbol, timestamp) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume,
		updated_at = CURRENT_TIMESTAMP
`

const selectStockPriceColumns = `
	SELECT symbol, timestamp, open, high, low, close, volume, updated_at
	FROM stock_prices
`

// UpsertStockPrices writes one symbol's batch in a single transaction. On a
// (symbol, timestamp) collision every price and volume field is overwritten,
// nulls included. Any failure rolls back the whole batch.
func (db *DB) UpsertStockPrices(ctx context.Context, symbol string, prices []models.StockPrice) (int, error) {
	if len(prices) == 0 {
		return 0, nil
	}

	for i := range prices {
		p := &prices[i]
		if err := p.Validate(); err != nil {
			return 0, &apperrors.PersistenceError{Op: "validate", Symbol: symbol, Err: err}
		}
		if p.Symbol != symbol {
			return 0, &apperrors.PersistenceError{
				Op: "validate", Symbol: symbol,
				Err: fmt.Errorf("record for %s in batch for %s", p.Symbol, symbol),
			}
		}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, &apperrors.PersistenceError{Op: "begin", Symbol: symbol, Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertStockPriceQuery)
	if err != nil {
		return 0, &apperrors.PersistenceError{Op: "prepare", Symbol: symbol, Err: fmt.Errorf("failed to prepare statement: %w", err)}
	}
	defer stmt.Close()

	for _, p := range prices {
		_, err := stmt.ExecContext(ctx, p.Symbol, p.Timestamp, p.Open, p.High, p.Low, p.Close, p.Volume)
		if err != nil {
			return 0, &apperrors.PersistenceError{
				Op: "upsert", Symbol: symbol,
				Err: fmt.Errorf("failed to upsert price data for %s on %s: %w", p.Symbol, p.Timestamp, err),
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &apperrors.PersistenceError{Op: "commit", Symbol: symbol, Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}
	return len(prices), nil
}

// LatestTimestamp returns the most recent stored day for symbol. The bool
// is false when the symbol has no rows.
func (db *DB) LatestTimestamp(ctx context.Context, symbol string) (models.Date, bool, error) {
	var latest models.Date
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM stock_prices WHERE symbol = $1`, symbol).Scan(&latest)
	if err != nil {
		return models.Date{}, false, &apperrors.PersistenceError{Op: "latest timestamp", Symbol: symbol, Err: err}
	}
	return latest, !latest.IsZero(), nil
}

// GetStockPrice retrieves the row for a symbol and day
func (db *DB) GetStockPrice(ctx context.Context, symbol string, date models.Date) (*models.StockPrice, error) {
	row := db.conn.QueryRowContext(ctx, selectStockPriceColumns+` WHERE symbol = $1 AND timestamp = $2`, symbol, date)

	p, err := scanStockPrice(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("price data not found for %s on %s", symbol, date)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price data: %w", err)
	}
	return p, nil
}

// GetStockPricesBySymbol retrieves the most recent rows for a symbol, newest first
func (db *DB) GetStockPricesBySymbol(ctx context.Context, symbol string, limit int) ([]*models.StockPrice, error) {
	rows, err := db.conn.QueryContext(ctx, selectStockPriceColumns+` WHERE symbol = $1 ORDER BY timestamp DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get price data: %w", err)
	}
	defer rows.Close()

	var prices []*models.StockPrice
	for rows.Next() {
		p, err := scanStockPrice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price data: %w", err)
	}
	return prices, nil
}

// CountStockPrices returns the number of stored rows, optionally for one symbol
func (db *DB) CountStockPrices(ctx context.Context, symbol string) (int, error) {
	var n int
	var err error
	if symbol == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_prices`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM stock_prices WHERE symbol = $1`, symbol).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count price data: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStockPrice(s scanner) (*models.StockPrice, error) {
	var p models.StockPrice
	var volume sql.NullInt64

	err := s.Scan(&p.Symbol, &p.Timestamp, &p.Open, &p.High, &p.Low, &p.Close, &volume, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if volume.Valid {
		v := volume.Int64
		p.Volume = &v
	}
	return &p, nil
}
