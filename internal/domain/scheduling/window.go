package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// Window is one of the three time windows the appointment list is filtered by.
type Window string

const (
	WindowToday    Window = "today"
	WindowUpcoming Window = "upcoming"
	WindowPast     Window = "past"
)

// Windows lists every window in display order.
var Windows = []Window{WindowToday, WindowUpcoming, WindowPast}

// ParseWindow accepts a window name in any case. An empty value selects today.
func ParseWindow(s string) (Window, error) {
	switch Window(strings.ToLower(strings.TrimSpace(s))) {
	case "", WindowToday:
		return WindowToday, nil
	case WindowUpcoming:
		return WindowUpcoming, nil
	case WindowPast:
		return WindowPast, nil
	}
	return "", fmt.Errorf("unknown window %q", s)
}

// StartOfDay returns local midnight of now's calendar day in loc.
func StartOfDay(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
}

// EndOfDay returns local midnight of the following calendar day in loc. Today
// is the half-open range [StartOfDay, EndOfDay).
func EndOfDay(now time.Time, loc *time.Location) time.Time {
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()+1, 0, 0, 0, 0, loc)
}

// Classify places t in exactly one window relative to now.
func Classify(t, now time.Time, loc *time.Location) Window {
	switch {
	case t.Before(StartOfDay(now, loc)):
		return WindowPast
	case t.Before(EndOfDay(now, loc)):
		return WindowToday
	default:
		return WindowUpcoming
	}
}

// IsPast reports whether t lies strictly before now. It is a point-in-time
// check and differs from the past window: an appointment earlier today is
// past here while still classified as today.
func IsPast(t, now time.Time) bool {
	return t.Before(now)
}

// Bounds returns the query range of w as half-open [from, to). A nil bound is
// open.
func Bounds(w Window, now time.Time, loc *time.Location) (from, to *time.Time) {
	start := StartOfDay(now, loc)
	end := EndOfDay(now, loc)
	switch w {
	case WindowToday:
		return &start, &end
	case WindowUpcoming:
		return &end, nil
	case WindowPast:
		return nil, &start
	}
	return nil, nil
}

// Contains reports whether t falls inside [from, to).
func Contains(from, to *time.Time, t time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}
