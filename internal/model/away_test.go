package model_test

import (
	"testing"
	"time"

	"github.com/abi50/pida/internal/model"
)

// mustTime builds a time.Time for a known weekday at a given hour:minute.
// 2026-07-27 is a Monday, so adding d days lands on weekday d (0=Monday).
func mustTime(t *testing.T, d, hour, minute int) time.Time {
	t.Helper()
	base := time.Date(2026, 7, 27, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, d).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestInAwayWindow_EmptyWindows(t *testing.T) {
	if model.InAwayWindow(mustTime(t, 0, 23, 0), nil) {
		t.Fatal("InAwayWindow(empty) = true, want false")
	}
}

func TestInAwayWindow_DisabledWindowIgnored(t *testing.T) {
	windows := []model.AwayWindow{
		{Days: []int{0}, StartHour: 0, StartMinute: 0, EndHour: 23, EndMinute: 59, Enabled: false},
	}
	if model.InAwayWindow(mustTime(t, 0, 12, 0), windows) {
		t.Fatal("InAwayWindow with a disabled window = true, want false")
	}
}

func TestInAwayWindow_SameDayRange(t *testing.T) {
	windows := []model.AwayWindow{
		{Days: []int{0}, StartHour: 9, StartMinute: 0, EndHour: 17, EndMinute: 0, Enabled: true},
	}
	if !model.InAwayWindow(mustTime(t, 0, 12, 30), windows) {
		t.Fatal("expected 12:30 Monday inside 09:00-17:00 window")
	}
	if model.InAwayWindow(mustTime(t, 0, 17, 0), windows) {
		t.Fatal("expected 17:00 to be the exclusive end boundary")
	}
	if model.InAwayWindow(mustTime(t, 0, 8, 59), windows) {
		t.Fatal("expected 08:59 to be before the window starts")
	}
}

func TestInAwayWindow_WrapsPastMidnight(t *testing.T) {
	windows := []model.AwayWindow{
		{Days: []int{0}, StartHour: 22, StartMinute: 0, EndHour: 6, EndMinute: 0, Enabled: true},
	}
	if !model.InAwayWindow(mustTime(t, 0, 23, 30), windows) {
		t.Fatal("expected 23:30 Monday inside a 22:00-06:00 wrapping window")
	}
	if !model.InAwayWindow(mustTime(t, 0, 2, 0), windows) {
		t.Fatal("expected 02:00 Monday inside a 22:00-06:00 wrapping window")
	}
	if model.InAwayWindow(mustTime(t, 0, 12, 0), windows) {
		t.Fatal("expected 12:00 Monday outside a 22:00-06:00 wrapping window")
	}
}

func TestInAwayWindow_WeekdayNotListed(t *testing.T) {
	windows := []model.AwayWindow{
		{Days: []int{5, 6}, StartHour: 0, StartMinute: 0, EndHour: 23, EndMinute: 59, Enabled: true},
	}
	if model.InAwayWindow(mustTime(t, 0, 12, 0), windows) {
		t.Fatal("Monday should not match a Saturday/Sunday-only window")
	}
	if !model.InAwayWindow(mustTime(t, 5, 12, 0), windows) {
		t.Fatal("Saturday should match a window listing day 5")
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := model.NewID()
		if len(id) != 24 {
			t.Fatalf("NewID() length = %d, want 24 hex chars", len(id))
		}
		if seen[id] {
			t.Fatalf("NewID() produced a duplicate: %s", id)
		}
		seen[id] = true
	}
}
