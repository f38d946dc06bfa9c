package classifier

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/thatsimonsguy/blackout-monitor/internal/model"
)

var timePattern = regexp.MustCompile(`\b(\d{2}:\d{2})\b`)

// TimeInWindow reports whether hour lies in [start, end). An unknown window
// contains no hours.
func TimeInWindow(hour int, w model.OutageWindow) bool {
	if !w.Known() {
		return false
	}
	return *w.Start <= hour && hour < *w.End
}

func WindowFlagFor(hour int, w model.OutageWindow) model.WindowFlag {
	if TimeInWindow(hour, w) {
		return model.WindowInside
	}
	return model.WindowOutside
}

// Compare classifies an observation against the schedule. Rule order matters:
// power observed on outside the declared outage window is always a match,
// because the hourly schedule is coarser than the window.
func Compare(expected, actual model.PowerState, flag model.WindowFlag) model.Label {
	if expected == model.StateUnknown || actual == model.StateUnknown || flag == model.WindowUnknown {
		return model.LabelNoData
	}
	if flag == model.WindowOutside && actual == model.StateOn {
		return model.LabelMatch
	}
	if expected == actual {
		return model.LabelMatch
	}
	if expected == model.StatePossibleOutage {
		return model.LabelPossibleMismatch
	}
	return model.LabelMismatch
}

// ParseOutageWindow extracts the first two HH:MM tokens from page text. When
// fewer than two are present the whole day (00-24) is assumed.
func ParseOutageWindow(text string) model.OutageWindow {
	matches := timePattern.FindAllString(text, -1)
	if len(matches) < 2 {
		return model.NewOutageWindow(0, 24)
	}

	start, errStart := hourOf(matches[0])
	end, errEnd := hourOf(matches[1])
	if errStart != nil || errEnd != nil {
		return model.NewOutageWindow(0, 24)
	}
	return model.NewOutageWindow(start, end)
}

func hourOf(hhmm string) (int, error) {
	hh, _, _ := strings.Cut(hhmm, ":")
	return strconv.Atoi(hh)
}
