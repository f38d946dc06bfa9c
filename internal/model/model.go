package model

import (
	"fmt"
	"strconv"
	"time"
)

type PowerState int

const (
	StateUnknown        PowerState = -1
	StateOn             PowerState = 0
	StatePossibleOutage PowerState = 1
	StateOff            PowerState = 2
)

// ParsePowerState converts a stored or configured integer code into a
// PowerState. Codes outside {-1,0,1,2} are rejected.
func ParsePowerState(code int) (PowerState, error) {
	s := PowerState(code)
	if !s.Valid() {
		return StateUnknown, fmt.Errorf("invalid power state code %d", code)
	}
	return s, nil
}

func (s PowerState) Valid() bool {
	switch s {
	case StateUnknown, StateOn, StatePossibleOutage, StateOff:
		return true
	default:
		return false
	}
}

func (s PowerState) String() string {
	switch s {
	case StateOn:
		return "on"
	case StatePossibleOutage:
		return "possible_outage"
	case StateOff:
		return "off"
	case StateUnknown:
		return "unknown"
	default:
		return "invalid(" + strconv.Itoa(int(s)) + ")"
	}
}

// Label is the outcome of comparing expected and actual state.
type Label string

const (
	LabelNoData           Label = "no_data"
	LabelMatch            Label = "match"
	LabelPossibleMismatch Label = "possible_mismatch"
	LabelMismatch         Label = "mismatch"
)

// WindowFlag records whether an hour falls inside today's stable outage window.
type WindowFlag int

const (
	WindowUnknown WindowFlag = -1
	WindowOutside WindowFlag = 0
	WindowInside  WindowFlag = 1
)

// Schedule maps a Monday-first weekday (0=Monday..6=Sunday) to hourly
// expected states.
type Schedule map[int][]PowerState

// Weekday returns the Monday-first weekday index used by Schedule.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// OutageWindow is today's stable outage interval in whole hours. Nil bounds
// mean the window is unknown.
type OutageWindow struct {
	Start *int `json:"start"`
	End   *int `json:"end"`
}

func NewOutageWindow(start, end int) OutageWindow {
	return OutageWindow{Start: &start, End: &end}
}

func (w OutageWindow) Known() bool {
	return w.Start != nil && w.End != nil
}

func (w OutageWindow) String() string {
	if !w.Known() {
		return "none-none"
	}
	return fmt.Sprintf("%02d-%02d", *w.Start, *w.End)
}

type ReconciliationRecord struct {
	Timestamp   time.Time  `json:"timestamp"`
	Expected    PowerState `json:"expected_state"`
	Actual      PowerState `json:"actual_state"`
	TodayWindow WindowFlag `json:"today_state"`
	Comparison  Label      `json:"comparison"`
}

type EnergySample struct {
	Timestamp time.Time `json:"timestamp"`
	GroupID   string    `json:"device_group_id"`
	BatteryAh float64   `json:"battery_ah"`
	DeviceID  string    `json:"device_id"`
	Hourly    []float64 `json:"data"`
}

// HourlyConsumption maps hour -> device group -> consumption (Wh).
type HourlyConsumption map[int]map[string]float64

// DeviceGroup is a set of metered devices backed by one battery.
type DeviceGroup struct {
	ID        string  `json:"id"`
	BatteryAh float64 `json:"battery_ah"`
}

type Attribution struct {
	GroupID           string  `json:"group_id"`
	TotalKWh          float64 `json:"total_kwh"`
	Hours             int     `json:"hours"`
	BatteryAh         float64 `json:"battery_ah"`
	BatteryPercentage float64 `json:"battery_percentage"`
}

type DailySummary struct {
	OnHours      int `json:"on_hours"`
	OffHours     int `json:"off_hours"`
	UnknownHours int `json:"unknown_hours"`
}
