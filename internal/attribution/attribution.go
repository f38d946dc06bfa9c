package attribution

import (
	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

// NominalBatteryVoltage is the fixed pack voltage used to turn amp-hours into
// watt-hours.
const NominalBatteryVoltage = 12.0

type Input struct {
	Expected    []model.PowerState
	Actual      map[int]model.PowerState
	Consumption model.HourlyConsumption
	Groups      []model.DeviceGroup
}

// Engine attributes device consumption to outage hours. By default only the
// first contiguous outage of the day is counted and the scan stops at its
// end; AllOutages keeps scanning and counts every qualifying run.
type Engine struct {
	AllOutages bool
}

// Attribute returns one entry per configured group, in configuration order,
// including groups with no attributed hours.
func (e Engine) Attribute(in Input) []model.Attribution {
	totals := make(map[string]*model.Attribution, len(in.Groups))
	out := make([]model.Attribution, len(in.Groups))
	for i, g := range in.Groups {
		out[i] = model.Attribution{GroupID: g.ID, BatteryAh: g.BatteryAh}
		totals[g.ID] = &out[i]
	}

	inOutage := false
	for hour := 0; hour < 24; hour++ {
		if qualifies(in, hour) {
			inOutage = true
		} else if inOutage {
			if !e.AllOutages {
				break
			}
			inOutage = false
		}

		if !inOutage {
			continue
		}
		byGroup, ok := in.Consumption[hour]
		if !ok {
			continue
		}
		for _, g := range in.Groups {
			wh, ok := byGroup[g.ID]
			if !ok {
				continue
			}
			a := totals[g.ID]
			a.TotalKWh += wh / 1000
			a.Hours++
		}
	}

	for i := range out {
		out[i].BatteryPercentage = BatteryPercentage(out[i].TotalKWh, out[i].BatteryAh)
	}
	return out
}

// qualifies reports whether an hour is both scheduled and observed off. Hours
// without an observation are treated as on.
func qualifies(in Input, hour int) bool {
	if hour >= len(in.Expected) || in.Expected[hour] != model.StateOff {
		return false
	}
	actual, ok := in.Actual[hour]
	if !ok {
		actual = model.StateOn
	}
	return actual == model.StateOff
}

func BatteryPercentage(totalKWh, batteryAh float64) float64 {
	if batteryAh <= 0 {
		return 0
	}
	return totalKWh * 1000 / (batteryAh * NominalBatteryVoltage) * 100
}

// Reportable drops groups that drew nothing during an outage.
func Reportable(atts []model.Attribution) []model.Attribution {
	var out []model.Attribution
	for _, a := range atts {
		if a.Hours > 0 {
			out = append(out, a)
		}
	}
	return out
}
