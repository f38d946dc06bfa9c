package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// UpsertStatus writes one reconciliation record. A second write for the same
// timestamp replaces the first.
func UpsertStatus(db *sql.DB, rec model.ReconciliationRecord) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO electricity_status
		(timestamp, expected_state, actual_state, today_state, comparison)
		VALUES (?, ?, ?, ?, ?)`,
		formatTimestamp(rec.Timestamp), int(rec.Expected), int(rec.Actual), int(rec.TodayWindow), string(rec.Comparison))
	if err != nil {
		return storageErr("upsert status", err)
	}
	return nil
}

// UpsertEnergySamples writes all samples in one transaction.
func UpsertEnergySamples(db *sql.DB, samples []model.EnergySample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := StartTransaction(db)
	if err != nil {
		return storageErr("upsert energy samples", err)
	}

	for _, s := range samples {
		hourly, err := json.Marshal(s.Hourly)
		if err != nil {
			RollbackTransaction(tx)
			return storageErr("encode hourly data for "+s.DeviceID, err)
		}
		_, err = tx.Exec(`INSERT OR REPLACE INTO energy_consumption
			(timestamp, device_group_id, battery_Ah, device_id, hourly_data)
			VALUES (?, ?, ?, ?, ?)`,
			formatTimestamp(s.Timestamp), s.GroupID, s.BatteryAh, s.DeviceID, string(hourly))
		if err != nil {
			RollbackTransaction(tx)
			return storageErr("insert energy sample "+s.DeviceID, err)
		}
	}

	if err := CommitTransaction(tx); err != nil {
		return storageErr("upsert energy samples", err)
	}
	return nil
}

// CompactEnergySamples removes every energy sample taken on or after since
// that has a newer sample for the same device on the same day.
func CompactEnergySamples(db *sql.DB, since time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM energy_consumption
		WHERE timestamp >= ? AND EXISTS (
			SELECT 1 FROM energy_consumption AS newer
			WHERE newer.device_group_id = energy_consumption.device_group_id
			  AND newer.device_id = energy_consumption.device_id
			  AND substr(newer.timestamp, 1, 10) = substr(energy_consumption.timestamp, 1, 10)
			  AND newer.timestamp > energy_consumption.timestamp
		)`, formatTimestamp(since))
	if err != nil {
		return 0, storageErr("compact energy samples", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneStatusBefore deletes reconciliation records older than cutoff.
func PruneStatusBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM electricity_status WHERE timestamp < ?`, formatTimestamp(cutoff))
	if err != nil {
		return 0, storageErr("prune status records", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func Vacuum(db *sql.DB) error {
	if _, err := db.Exec(`VACUUM`); err != nil {
		return storageErr("vacuum", err)
	}
	return nil
}
