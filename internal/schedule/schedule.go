package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

const HoursPerDay = 24

// ErrScheduleUnavailable wraps every load failure. Callers keep whatever
// schedule they had before.
var ErrScheduleUnavailable = errors.New("schedule unavailable")

type Store struct {
	path    string
	groupID string
}

func NewStore(path, groupID string) *Store {
	return &Store{path: path, groupID: groupID}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the schedule file and returns the weekday table for the
// configured group.
func (s *Store) Load() (model.Schedule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrScheduleUnavailable, s.path, err)
	}
	return Parse(data, s.groupID)
}

// Parse decodes a schedule document of the form
// {"<group>": {"0": [24 codes], ..., "6": [...]}}.
func Parse(data []byte, groupID string) (model.Schedule, error) {
	var groups map[string]map[string][]int
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("%w: malformed schedule: %v", ErrScheduleUnavailable, err)
	}

	days, ok := groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %q not found", ErrScheduleUnavailable, groupID)
	}

	sched := make(model.Schedule, len(days))
	for key, codes := range days {
		weekday, err := strconv.Atoi(key)
		if err != nil || weekday < 0 || weekday > 6 {
			return nil, fmt.Errorf("%w: invalid weekday key %q", ErrScheduleUnavailable, key)
		}
		if len(codes) > HoursPerDay {
			return nil, fmt.Errorf("%w: weekday %d has %d hours", ErrScheduleUnavailable, weekday, len(codes))
		}

		states := make([]model.PowerState, len(codes))
		for hour, code := range codes {
			state, err := model.ParsePowerState(code)
			if err != nil || state == model.StateUnknown {
				return nil, fmt.Errorf("%w: weekday %d hour %d has code %d", ErrScheduleUnavailable, weekday, hour, code)
			}
			states[hour] = state
		}
		sched[weekday] = states
	}
	return sched, nil
}

// ExpectedState looks up the scheduled state. Gaps are normal around day
// boundaries and yield StateUnknown.
func ExpectedState(s model.Schedule, weekday, hour int) model.PowerState {
	day, ok := s[weekday]
	if !ok || hour < 0 || hour >= len(day) {
		return model.StateUnknown
	}
	return day[hour]
}

// ForDay returns exactly 24 entries for the weekday, padding gaps with
// StateUnknown.
func ForDay(s model.Schedule, weekday int) []model.PowerState {
	out := make([]model.PowerState, HoursPerDay)
	for hour := range out {
		out[hour] = ExpectedState(s, weekday, hour)
	}
	return out
}
