package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogsNewestFirstWithFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log := NewIsolatedLogger(path)

	log.Debug("UPLOAD", "not persisted", nil)
	log.Info("UPLOAD", "first", map[string]interface{}{"bytes": 10})
	log.Warn("VERIFY", "second", nil)
	log.Info("UPLOAD", "third", nil)
	require.NoError(t, log.Sync())

	all, err := log.GetLogs(LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Message)
	assert.Equal(t, "first", all[2].Message)
	assert.NotEmpty(t, all[0].Id)
	assert.EqualValues(t, 10, all[2].Details["bytes"])

	uploads, err := log.GetLogs(LogFilter{Module: "UPLOAD"})
	require.NoError(t, err)
	assert.Len(t, uploads, 2)

	warns, err := log.GetLogs(LogFilter{Level: "WARN"})
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, "VERIFY", warns[0].Module)

	page, err := log.GetLogs(LogFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "second", page[0].Message)

	past, err := log.GetLogs(LogFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestGetLogsWithoutFile(t *testing.T) {
	logs, err := NewNopLogger().GetLogs(LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)

	missing := NewIsolatedLogger(filepath.Join(t.TempDir(), "never-written.log"))
	logs, err = missing.GetLogs(LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}
