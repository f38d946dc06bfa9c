package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

// Tables lists the tables the maintenance tooling reports on.
var Tables = []string{"electricity_status", "energy_consumption"}

// GetRecords returns the reconciliation records for the calendar day
// containing day, oldest first.
func GetRecords(db *sql.DB, day time.Time) ([]model.ReconciliationRecord, error) {
	start, end := dayBounds(day)
	rows, err := db.Query(`SELECT timestamp, expected_state, actual_state, today_state, comparison
		FROM electricity_status
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`, start, end)
	if err != nil {
		return nil, storageErr("query status records", err)
	}
	defer rows.Close()

	var records []model.ReconciliationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate status records", err)
	}
	return records, nil
}

// GetLatestRecord returns the most recent reconciliation record, or
// ErrNoRecords when the table is empty.
func GetLatestRecord(db *sql.DB) (*model.ReconciliationRecord, error) {
	row := db.QueryRow(`SELECT timestamp, expected_state, actual_state, today_state, comparison
		FROM electricity_status ORDER BY timestamp DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRecords
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (model.ReconciliationRecord, error) {
	var rec model.ReconciliationRecord
	var ts, comparison string
	var expected, actual, window int
	if err := row.Scan(&ts, &expected, &actual, &window, &comparison); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, storageErr("scan status record", err)
	}

	t, err := parseTimestamp(ts)
	if err != nil {
		return rec, storageErr("parse timestamp "+ts, err)
	}
	rec.Timestamp = t
	rec.Expected = toState(expected)
	rec.Actual = toState(actual)
	rec.TodayWindow = model.WindowFlag(window)
	rec.Comparison = model.Label(comparison)
	return rec, nil
}

func toState(code int) model.PowerState {
	s, err := model.ParsePowerState(code)
	if err != nil {
		log.Warn().Int("code", code).Msg("Stored power state out of range, treating as unknown")
	}
	return s
}

// LatestActualStatesByHour returns, for each hour of the day that has at least
// one record, the actual state of the newest record in that hour.
func LatestActualStatesByHour(db *sql.DB, day time.Time) (map[int]model.PowerState, error) {
	records, err := GetRecords(db, day)
	if err != nil {
		return nil, err
	}

	states := make(map[int]model.PowerState)
	for _, rec := range records {
		// records are oldest first, so later writes win
		states[rec.Timestamp.Hour()] = rec.Actual
	}
	return states, nil
}

// DailySummary buckets the 24 hours of a day by their latest observed state.
// Hours with no record, or whose latest record is neither on nor off, count
// as unknown, so the three counts always add up to 24.
func DailySummary(db *sql.DB, day time.Time) (model.DailySummary, error) {
	states, err := LatestActualStatesByHour(db, day)
	if err != nil {
		return model.DailySummary{}, err
	}

	var summary model.DailySummary
	for hour := 0; hour < 24; hour++ {
		state, ok := states[hour]
		if !ok {
			state = model.StateUnknown
		}
		switch state {
		case model.StateOn:
			summary.OnHours++
		case model.StateOff:
			summary.OffHours++
		default:
			summary.UnknownHours++
		}
	}
	return summary, nil
}

type consumptionKey struct {
	hour   int
	group  string
	device string
}

// HourlyConsumption sums per-group consumption for each hour of the day.
// For every (hour, group, device) only the newest sample's value is used.
func HourlyConsumption(db *sql.DB, day time.Time) (model.HourlyConsumption, error) {
	start, end := dayBounds(day)
	rows, err := db.Query(`SELECT device_group_id, device_id, hourly_data
		FROM energy_consumption
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp DESC`, start, end)
	if err != nil {
		return nil, storageErr("query energy samples", err)
	}
	defer rows.Close()

	seen := make(map[consumptionKey]bool)
	consumption := make(model.HourlyConsumption)
	for rows.Next() {
		var group, device, raw string
		if err := rows.Scan(&group, &device, &raw); err != nil {
			return nil, storageErr("scan energy sample", err)
		}

		var hourly []float64
		if err := json.Unmarshal([]byte(raw), &hourly); err != nil {
			log.Warn().Err(err).Str("group", group).Str("device", device).Msg("Skipping energy sample with unreadable hourly data")
			continue
		}

		for hour, wh := range hourly {
			if hour >= 24 {
				break
			}
			key := consumptionKey{hour: hour, group: group, device: device}
			if seen[key] {
				continue
			}
			seen[key] = true
			if consumption[hour] == nil {
				consumption[hour] = make(map[string]float64)
			}
			consumption[hour][group] += wh
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate energy samples", err)
	}
	return consumption, nil
}

// CountRows returns the row count of one of Tables.
func CountRows(db *sql.DB, table string) (int64, error) {
	known := false
	for _, t := range Tables {
		if t == table {
			known = true
			break
		}
	}
	if !known {
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		return 0, storageErr("count "+table, err)
	}
	return n, nil
}
