package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// Writer keeps one JSON file per day in dir.
type Writer struct {
	dir string
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Path(date string) string {
	return filepath.Join(w.dir, date+".json")
}

// Save replaces the day's snapshot atomically: readers see either the old
// file or the new one, never a partial write.
func (w *Writer) Save(s Snapshot) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	file, err := os.CreateTemp(w.dir, s.Date+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := file.Name()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	file.Sync()
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, w.Path(s.Date)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (w *Writer) Load(date string) (Snapshot, error) {
	var s Snapshot

	file, err := os.Open(w.Path(date))
	if errors.Is(err, os.ErrNotExist) {
		return s, fmt.Errorf("%w: %s", ErrSnapshotNotFound, date)
	}
	if err != nil {
		return s, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(&s); err != nil {
		return s, fmt.Errorf("decode snapshot %s: %w", date, err)
	}
	return s, nil
}
