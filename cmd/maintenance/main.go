package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/thatsimonsguy/blackout-monitor/db"
	"github.com/thatsimonsguy/blackout-monitor/internal/export"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, time.Now()); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, now time.Time) error {
	fs := flag.NewFlagSet("blackout-maintenance", flag.ContinueOnError)
	fs.SetOutput(out)

	var dbPath, driver, command, date string
	var days int
	fs.StringVar(&dbPath, "db", "data/blackout.db", "Path to the SQLite database file")
	fs.StringVar(&driver, "driver", "sqlite3", "Database driver (sqlite3 or sqlite)")
	fs.StringVar(&command, "cmd", "", "Command to run: compact, prune, vacuum, counts, summary")
	fs.IntVar(&days, "days", 7, "compact: days back to scan; prune: days of status records to keep")
	fs.StringVar(&date, "date", "", "summary: day to summarise as YYYY-MM-DD (default today)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if command == "" {
		fs.Usage()
		return errUsage
	}
	if days < 0 {
		return fmt.Errorf("days must not be negative")
	}

	conn, err := db.Open(driver, dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.ApplyMigrations(conn); err != nil {
		return err
	}

	startOfToday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch command {
	case "compact":
		n, err := db.CompactEnergySamples(conn, startOfToday.AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d superseded energy samples\n", n)
	case "prune":
		n, err := db.PruneStatusBefore(conn, startOfToday.AddDate(0, 0, -days))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d status records older than %d days\n", n, days)
	case "vacuum":
		if err := db.Vacuum(conn); err != nil {
			return err
		}
		fmt.Fprintln(out, "Database vacuumed")
	case "counts":
		return printCounts(conn, out)
	case "summary":
		day := now
		if date != "" {
			day, err = time.ParseInLocation(export.DateLayout, date, time.Local)
			if err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}
		}
		s, err := db.DailySummary(conn, day)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: on %dh, off %dh, unknown %dh\n", day.Format(export.DateLayout), s.OnHours, s.OffHours, s.UnknownHours)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func printCounts(conn *sql.DB, out io.Writer) error {
	for _, table := range db.Tables {
		n, err := db.CountRows(conn, table)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-20s %d\n", table, n)
	}
	return nil
}
