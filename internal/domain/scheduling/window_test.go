package scheduling

import (
	"testing"
	"time"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestClassify(t *testing.T) {
	now := at("2026-02-17T10:00:00+05:30")
	tests := []struct {
		name string
		t    string
		want Window
	}{
		{"later today", "2026-02-17T10:30:00+05:30", WindowToday},
		{"earlier today", "2026-02-17T09:00:00+05:30", WindowToday},
		{"start of day is today", "2026-02-17T00:00:00+05:30", WindowToday},
		{"last instant of yesterday", "2026-02-16T23:59:59+05:30", WindowPast},
		{"next midnight is upcoming", "2026-02-18T00:00:00+05:30", WindowUpcoming},
		{"next week", "2026-02-24T09:00:00+05:30", WindowUpcoming},
		{"utc instant inside local day", "2026-02-16T19:00:00Z", WindowToday},
		{"utc instant before local day", "2026-02-16T18:29:59Z", WindowPast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(at(tt.t), now, ist); got != tt.want {
				t.Errorf("Classify(%s) = %s, want %s", tt.t, got, tt.want)
			}
		})
	}
}

func TestClassify_ExactlyOneWindow(t *testing.T) {
	now := at("2026-02-17T10:00:00+05:30")
	start := at("2026-02-15T00:00:00+05:30")
	for i := 0; i < 4*24*4; i++ {
		ts := start.Add(time.Duration(i) * 15 * time.Minute)
		matches := 0
		for _, w := range Windows {
			from, to := Bounds(w, now, ist)
			if Contains(from, to, ts) {
				matches++
				if Classify(ts, now, ist) != w {
					t.Fatalf("%s: bounds and classification disagree", ts)
				}
			}
		}
		if matches != 1 {
			t.Fatalf("%s matched %d windows", ts, matches)
		}
	}
}

func TestIsPast(t *testing.T) {
	now := at("2026-02-17T10:00:00+05:30")
	if IsPast(at("2026-02-17T10:30:00+05:30"), now) {
		t.Error("10:30 should not be past at 10:00")
	}
	if !IsPast(at("2026-02-17T09:00:00+05:30"), now) {
		t.Error("09:00 should be past at 10:00")
	}
	if IsPast(now, now) {
		t.Error("now itself is not past")
	}
}

func TestBounds(t *testing.T) {
	now := at("2026-02-17T10:00:00+05:30")
	from, to := Bounds(WindowToday, now, ist)
	if from == nil || to == nil {
		t.Fatal("today must be bounded on both sides")
	}
	if !from.Equal(at("2026-02-17T00:00:00+05:30")) || !to.Equal(at("2026-02-18T00:00:00+05:30")) {
		t.Errorf("unexpected today bounds %s - %s", from, to)
	}

	from, to = Bounds(WindowUpcoming, now, ist)
	if from == nil || to != nil || !from.Equal(at("2026-02-18T00:00:00+05:30")) {
		t.Errorf("unexpected upcoming bounds %v - %v", from, to)
	}

	from, to = Bounds(WindowPast, now, ist)
	if from != nil || to == nil || !to.Equal(at("2026-02-17T00:00:00+05:30")) {
		t.Errorf("unexpected past bounds %v - %v", from, to)
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    Window
		wantErr bool
	}{
		{"", WindowToday, false},
		{"Today", WindowToday, false},
		{"UPCOMING", WindowUpcoming, false},
		{" past ", WindowPast, false},
		{"tomorrow", "", true},
	}
	for _, tt := range tests {
		got, err := ParseWindow(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseWindow(%q) = %q, %v", tt.in, got, err)
		}
	}
}
