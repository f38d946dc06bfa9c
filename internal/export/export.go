package export

import (
	"time"

	"github.com/thatsimonsguy/blackout-monitor/internal/classifier"
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

const (
	DateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"

	// nextDayHours is how much of tomorrow's schedule the snapshot previews.
	nextDayHours = 5
)

type Hour struct {
	Hour        int                `json:"hour"`
	Expected    model.PowerState   `json:"expected_state"`
	InWindow    bool               `json:"in_window"`
	Actual      model.PowerState   `json:"actual_state"`
	Consumption map[string]float64 `json:"consumption_wh,omitempty"`
}

// Snapshot is the per-day artifact written after every cycle: today's
// expected and observed states hour by hour, consumption, and battery
// attribution.
type Snapshot struct {
	Date         string              `json:"date"`
	GeneratedAt  string              `json:"generated_at"`
	Group        string              `json:"group"`
	Window       model.OutageWindow  `json:"outage_window"`
	Hours        []Hour              `json:"hours"`
	NextDay      []model.PowerState  `json:"next_day"`
	Summary      model.DailySummary  `json:"summary"`
	Attributions []model.Attribution `json:"attributions"`
}

type Input struct {
	Now          time.Time
	Group        string
	Today        []model.PowerState
	Tomorrow     []model.PowerState
	Window       model.OutageWindow
	Actual       map[int]model.PowerState
	Consumption  model.HourlyConsumption
	Summary      model.DailySummary
	Attributions []model.Attribution
}

func Build(in Input) Snapshot {
	s := Snapshot{
		Date:         in.Now.Format(DateLayout),
		GeneratedAt:  in.Now.Format(timestampLayout),
		Group:        in.Group,
		Window:       in.Window,
		Hours:        make([]Hour, 24),
		NextDay:      make([]model.PowerState, nextDayHours),
		Summary:      in.Summary,
		Attributions: in.Attributions,
	}

	for h := 0; h < 24; h++ {
		row := Hour{
			Hour:     h,
			Expected: stateAt(in.Today, h),
			InWindow: classifier.TimeInWindow(h, in.Window),
			Actual:   model.StateUnknown,
		}
		if actual, ok := in.Actual[h]; ok {
			row.Actual = actual
		}
		if byGroup := in.Consumption[h]; len(byGroup) > 0 {
			row.Consumption = make(map[string]float64, len(byGroup))
			for group, wh := range byGroup {
				row.Consumption[group] = wh
			}
		}
		s.Hours[h] = row
	}

	for h := range s.NextDay {
		s.NextDay[h] = stateAt(in.Tomorrow, h)
	}
	return s
}

func stateAt(day []model.PowerState, hour int) model.PowerState {
	if hour < len(day) {
		return day[hour]
	}
	return model.StateUnknown
}
