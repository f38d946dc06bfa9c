package db

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// TimestampLayout is how every timestamp column is stored: local time at
// second resolution, so lexical order matches time order.
const TimestampLayout = "2006-01-02 15:04:05"

const dayLayout = "2006-01-02"

// ErrStorage wraps every failed read or write against the record store.
var ErrStorage = errors.New("storage failure")

// ErrNoRecords is returned when a lookup finds nothing to return.
var ErrNoRecords = errors.New("no records")

//go:embed schema.sql
var schemaSQL string

// Open connects to the SQLite database at path. driver is "sqlite3"
// (mattn, cgo) or "sqlite" (modernc, pure Go); empty selects sqlite3.
func Open(driver, path string) (*sql.DB, error) {
	switch driver {
	case "":
		driver = "sqlite3"
	case "sqlite3", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; also keeps a :memory: database alive across calls
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}
	return conn, nil
}

// ApplyMigrations creates the status and energy tables if they are missing.
func ApplyMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Debug().Msg("Database schema applied")
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.Local)
}

// dayBounds returns the [start, next) timestamp strings for the calendar day
// containing t.
func dayBounds(t time.Time) (string, string) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return formatTimestamp(start), formatTimestamp(start.AddDate(0, 0, 1))
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
