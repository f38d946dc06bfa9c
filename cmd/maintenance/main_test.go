package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blackout-monitor/db"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

var now = time.Date(2024, 5, 20, 9, 0, 0, 0, time.Local)

func seed(t *testing.T, path string) {
	conn, err := db.Open("sqlite3", path)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.ApplyMigrations(conn))

	for _, ts := range []time.Time{
		now.AddDate(0, 0, -30),
		now.AddDate(0, 0, -1),
		now.Add(-time.Hour),
	} {
		require.NoError(t, db.UpsertStatus(conn, model.ReconciliationRecord{
			Timestamp:  ts,
			Actual:     model.StateOff,
			Expected:   model.StateOff,
			Comparison: model.LabelMatch,
		}))
	}

	hourly := make([]float64, 24)
	for _, ts := range []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Hour)} {
		require.NoError(t, db.UpsertEnergySamples(conn, []model.EnergySample{{
			Timestamp: ts,
			GroupID:   "A",
			BatteryAh: 50,
			DeviceID:  "meter-1",
			Hourly:    hourly,
		}}))
	}
}

func runCmd(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	err := run(args, &out, now)
	return out.String(), err
}

func TestMaintenance_Counts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackout.db")
	seed(t, path)

	out, err := runCmd(t, "-db", path, "-cmd", "counts")
	require.NoError(t, err)
	assert.Regexp(t, `electricity_status\s+3`, out)
	assert.Regexp(t, `energy_consumption\s+2`, out)
}

func TestMaintenance_CompactAndPrune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackout.db")
	seed(t, path)

	out, err := runCmd(t, "-db", path, "-cmd", "compact", "-days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 superseded energy samples")

	out, err = runCmd(t, "-db", path, "-cmd", "prune", "-days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 status records")

	_, err = runCmd(t, "-db", path, "-cmd", "vacuum")
	require.NoError(t, err)
}

func TestMaintenance_Summary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blackout.db")
	seed(t, path)

	out, err := runCmd(t, "-db", path, "-cmd", "summary")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-20: on 0h, off 1h, unknown 23h\n", out)

	_, err = runCmd(t, "-db", path, "-cmd", "summary", "-date", "20.05.2024")
	assert.Error(t, err)
}

func TestMaintenance_BadInvocation(t *testing.T) {
	_, err := runCmd(t)
	assert.ErrorIs(t, err, errUsage)

	_, err = runCmd(t, "-db", filepath.Join(t.TempDir(), "x.db"), "-cmd", "explode")
	assert.ErrorContains(t, err, "unknown command")
}
