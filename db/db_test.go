package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

var testDay = time.Date(2024, 5, 6, 0, 0, 0, 0, time.Local)

func at(hour, minute int) time.Time {
	return testDay.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func setupTestDB(t *testing.T) *sql.DB {
	conn, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, ApplyMigrations(conn))
	return conn
}

func record(ts time.Time, actual model.PowerState) model.ReconciliationRecord {
	return model.ReconciliationRecord{
		Timestamp:   ts,
		Expected:    model.StateOn,
		Actual:      actual,
		TodayWindow: model.WindowOutside,
		Comparison:  model.LabelMatch,
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", ":memory:")
	assert.Error(t, err)
}

func TestOpen_PureGoDriver(t *testing.T) {
	conn, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, ApplyMigrations(conn))
	require.NoError(t, UpsertStatus(conn, record(at(9, 30), model.StateOff)))

	rec, err := GetLatestRecord(conn)
	require.NoError(t, err)
	assert.Equal(t, model.StateOff, rec.Actual)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	conn := setupTestDB(t)
	require.NoError(t, ApplyMigrations(conn))

	for _, table := range Tables {
		n, err := CountRows(conn, table)
		require.NoError(t, err)
		assert.Zero(t, n, table)
	}
}
