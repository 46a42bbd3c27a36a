package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"path/filepath"
	"testing"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trogers1052/stock-ingest-pipeline/internal/errors"
	"github.com/trogers1052/stock-ingest-pipeline/internal/models"
)

func TestExitFor(t *testing.T) {
	assert.Equal(t, subcommands.ExitUsageError, exitFor(&apperrors.ConfigurationError{Field: "ALPHA_VANTAGE_API_KEY", Message: "is required"}))
	assert.Equal(t, subcommands.ExitFailure, exitFor(errors.New("connection refused")))
}

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("ALPHA_VANTAGE_API_KEY", "")

	_, _, err := loadConfig("")
	require.Error(t, err)

	var cfgErr *apperrors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "ALPHA_VANTAGE_API_KEY", cfgErr.Field)
}

func TestRunCommandRejectsBadDate(t *testing.T) {
	path := ""
	cmd := &runCmd{configPath: &path, date: "01/15/2024"}
	assert.Equal(t, subcommands.ExitUsageError, cmd.Execute(context.Background(), flag.NewFlagSet("run", flag.ContinueOnError)))
}

func TestMigrateCommandOnSQLite(t *testing.T) {
	t.Setenv("ALPHA_VANTAGE_API_KEY", "test-key")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "migrate.db"))

	path := ""
	cmd := &migrateCmd{configPath: &path}
	assert.Equal(t, subcommands.ExitSuccess, cmd.Execute(context.Background(), flag.NewFlagSet("migrate", flag.ContinueOnError)))

	t.Run("down", func(t *testing.T) {
		cmd := &migrateCmd{configPath: &path, down: true}
		assert.Equal(t, subcommands.ExitSuccess, cmd.Execute(context.Background(), flag.NewFlagSet("migrate", flag.ContinueOnError)))
	})
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteReport(t *testing.T) {
	report := &models.RunReport{RunID: "run-1", TotalRecords: 100}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report))
	var back models.RunReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, "run-1", back.RunID)

	t.Run("write failure is returned", func(t *testing.T) {
		err := writeReport(failingWriter{}, report)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken pipe")
	})
}
