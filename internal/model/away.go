package model

import "time"

// AwayWindow is a user-declared interval, by weekday and wall-clock minute,
// during which the host is expected to be unattended.
type AwayWindow struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Days        []int  `json:"days"` // subset of 0..6, 0 = Monday
	StartHour   int    `json:"start_hour"`
	StartMinute int    `json:"start_minute"`
	EndHour     int    `json:"end_hour"`
	EndMinute   int    `json:"end_minute"`
	Enabled     bool   `json:"enabled"`
}

// dayIndex converts Go's time.Weekday (Sunday=0) to PIDA's Monday=0 scheme.
func dayIndex(t time.Time) int {
	wd := int(t.Weekday())
	return (wd + 6) % 7
}

// InAwayWindow reports whether t falls inside any enabled window in
// windows. It is false whenever windows is empty (P5), and it checks
// membership per the wrap-around semantics documented in spec.md §3: when
// start <= end the window spans [start, end) on each listed weekday;
// otherwise it wraps past midnight, active from start through end-of-day
// and from start-of-day through end, each checked against the weekday on
// which the instant itself falls.
func InAwayWindow(t time.Time, windows []AwayWindow) bool {
	if len(windows) == 0 {
		return false
	}

	weekday := dayIndex(t)
	minuteOfDay := t.Hour()*60 + t.Minute()

	for _, w := range windows {
		if !w.Enabled {
			continue
		}
		if !containsDay(w.Days, weekday) {
			continue
		}

		start := w.StartHour*60 + w.StartMinute
		end := w.EndHour*60 + w.EndMinute

		if start <= end {
			if minuteOfDay >= start && minuteOfDay < end {
				return true
			}
		} else {
			// Wraps past midnight: active from start..23:59 or 00:00..end.
			if minuteOfDay >= start || minuteOfDay < end {
				return true
			}
		}
	}
	return false
}

func containsDay(days []int, d int) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}

// MonitoredFolder configures a single directory or file tree the folder
// producer should watch.
type MonitoredFolder struct {
	ID             string `json:"id"`
	Path           string `json:"path"`
	Recursive      bool   `json:"recursive"`
	Enabled        bool   `json:"enabled"`
	WatchCreates   bool   `json:"watch_creates"`
	WatchModifies  bool   `json:"watch_modifies"`
	WatchDeletes   bool   `json:"watch_deletes"`
	WatchRenames   bool   `json:"watch_renames"`
}
