package attribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

func daySchedule(offHours ...int) []model.PowerState {
	s := make([]model.PowerState, 24)
	for _, h := range offHours {
		s[h] = model.StateOff
	}
	return s
}

func TestAttribute_SingleOutageScenario(t *testing.T) {
	in := Input{
		Expected: daySchedule(2, 3, 4, 5),
		Actual: map[int]model.PowerState{
			2: model.StateOff,
			3: model.StateOff,
			4: model.StateOff,
			5: model.StateOn,
		},
		Consumption: model.HourlyConsumption{
			2: {"A": 500},
			3: {"A": 500},
			4: {"A": 1000},
			5: {"A": 700},
		},
		Groups: []model.DeviceGroup{{ID: "A", BatteryAh: 50}},
	}

	atts := Engine{}.Attribute(in)
	require.Len(t, atts, 1)
	assert.Equal(t, "A", atts[0].GroupID)
	assert.InDelta(t, 2.0, atts[0].TotalKWh, 1e-9)
	assert.Equal(t, 3, atts[0].Hours)
	assert.InDelta(t, 333.333, atts[0].BatteryPercentage, 0.01)
}

func TestAttribute_StopsAfterFirstRun(t *testing.T) {
	in := Input{
		Expected: daySchedule(1, 2, 10, 11),
		Actual: map[int]model.PowerState{
			1: model.StateOff, 2: model.StateOff,
			10: model.StateOff, 11: model.StateOff,
		},
		Consumption: model.HourlyConsumption{
			1: {"A": 100}, 2: {"A": 100},
			10: {"A": 400}, 11: {"A": 400},
		},
		Groups: []model.DeviceGroup{{ID: "A", BatteryAh: 100}},
	}

	first := Engine{}.Attribute(in)
	assert.InDelta(t, 0.2, first[0].TotalKWh, 1e-9)
	assert.Equal(t, 2, first[0].Hours)

	all := Engine{AllOutages: true}.Attribute(in)
	assert.InDelta(t, 1.0, all[0].TotalKWh, 1e-9)
	assert.Equal(t, 4, all[0].Hours)
}

func TestAttribute_MissingActualCountsAsOn(t *testing.T) {
	in := Input{
		Expected:    daySchedule(0, 1, 2),
		Actual:      map[int]model.PowerState{},
		Consumption: model.HourlyConsumption{0: {"A": 100}, 1: {"A": 100}},
		Groups:      []model.DeviceGroup{{ID: "A", BatteryAh: 20}},
	}

	atts := Engine{}.Attribute(in)
	assert.Equal(t, 0, atts[0].Hours)
	assert.Zero(t, atts[0].TotalKWh)
}

func TestAttribute_ZeroHourGroupsStillReported(t *testing.T) {
	in := Input{
		Expected:    daySchedule(6, 7),
		Actual:      map[int]model.PowerState{6: model.StateOff, 7: model.StateOff},
		Consumption: model.HourlyConsumption{6: {"A": 250}, 7: {"A": 250}},
		Groups: []model.DeviceGroup{
			{ID: "A", BatteryAh: 100},
			{ID: "B", BatteryAh: 40},
		},
	}

	atts := Engine{}.Attribute(in)
	require.Len(t, atts, 2)
	assert.Equal(t, "A", atts[0].GroupID)
	assert.Equal(t, "B", atts[1].GroupID)
	assert.Equal(t, 0, atts[1].Hours)
	assert.Zero(t, atts[1].TotalKWh)
	assert.Zero(t, atts[1].BatteryPercentage)
	assert.Equal(t, 40.0, atts[1].BatteryAh)

	reportable := Reportable(atts)
	require.Len(t, reportable, 1)
	assert.Equal(t, "A", reportable[0].GroupID)
}

func TestAttribute_ScheduledOnButObservedOffIsIgnored(t *testing.T) {
	in := Input{
		Expected:    daySchedule(),
		Actual:      map[int]model.PowerState{3: model.StateOff},
		Consumption: model.HourlyConsumption{3: {"A": 900}},
		Groups:      []model.DeviceGroup{{ID: "A", BatteryAh: 50}},
	}

	assert.Empty(t, Reportable(Engine{}.Attribute(in)))
}

func TestAttribute_ShortExpectedSlice(t *testing.T) {
	in := Input{
		Expected: []model.PowerState{model.StateOff},
		Actual:   map[int]model.PowerState{0: model.StateOff},
		Consumption: model.HourlyConsumption{
			0: {"A": 120},
		},
		Groups: []model.DeviceGroup{{ID: "A", BatteryAh: 10}},
	}

	atts := Engine{}.Attribute(in)
	assert.Equal(t, 1, atts[0].Hours)
	assert.InDelta(t, 100.0, atts[0].BatteryPercentage, 1e-9)
}

func TestBatteryPercentage(t *testing.T) {
	assert.InDelta(t, 50.0, BatteryPercentage(0.6, 100), 1e-9)
	assert.Zero(t, BatteryPercentage(1, 0))
}
