// Package status keeps the most recent run report in Redis so the ops API
// and other services can read it without touching the database.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

const (
	LastRunKey = "stock-ingest:last-run"
	SymbolsKey = "stock-ingest:symbols"
)

// ErrNoRun is returned by LastRun before any run has been saved
var ErrNoRun = errors.New("no run recorded")

// RedisStore records run status in Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and pings it
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// SaveRun stores report as the last run and resets the symbol state hash to it
func (s *RedisStore) SaveRun(ctx context.Context, report *models.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	states := make(map[string]interface{}, len(report.Outcomes))
	for _, o := range report.Outcomes {
		states[o.Symbol] = string(o.State)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, LastRunKey, data, 0)
		pipe.Del(ctx, SymbolsKey)
		if len(states) > 0 {
			pipe.HSet(ctx, SymbolsKey, states)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.RunID, err)
	}
	return nil
}

// LastRun returns the most recently saved run report
func (s *RedisStore) LastRun(ctx context.Context) (*models.RunReport, error) {
	data, err := s.client.Get(ctx, LastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}

	var report models.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last run: %w", err)
	}
	return &report, nil
}

// SymbolStates returns the symbol state hash, updated as symbols finish
func (s *RedisStore) SymbolStates(ctx context.Context) (map[string]models.SymbolState, error) {
	raw, err := s.client.HGetAll(ctx, SymbolsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol states: %w", err)
	}
	states := make(map[string]models.SymbolState, len(raw))
	for symbol, state := range raw {
		states[symbol] = models.SymbolState(state)
	}
	return states, nil
}

// PublishSymbolOutcome records one symbol's state as soon as it finishes
func (s *RedisStore) PublishSymbolOutcome(ctx context.Context, runID string, outcome models.SymbolOutcome) error {
	if err := s.client.HSet(ctx, SymbolsKey, outcome.Symbol, string(outcome.State)).Err(); err != nil {
		return fmt.Errorf("failed to record state for %s: %w", outcome.Symbol, err)
	}
	return nil
}

// PublishRunCompleted saves the finished run
func (s *RedisStore) PublishRunCompleted(ctx context.Context, report *models.RunReport) error {
	return s.SaveRun(ctx, report)
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
