package markethours

import (
	"testing"
	"time"
)

func et(month time.Month, day, hour, min int) time.Time {
	return time.Date(2026, month, day, hour, min, 0, 0, Eastern)
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"mid-session Tuesday", et(time.June, 2, 11, 0), true},
		{"at the open", et(time.June, 2, 9, 30), true},
		{"minute before open", et(time.June, 2, 9, 29), false},
		{"at the close", et(time.June, 2, 16, 0), false},
		{"minute before close", et(time.June, 2, 15, 59), true},
		{"Saturday", et(time.June, 6, 11, 0), false},
		{"Sunday", et(time.June, 7, 11, 0), false},
		{"Independence Day observed", et(time.July, 3, 11, 0), false},
		{"Christmas", et(time.December, 25, 11, 0), false},
	}
	for _, c := range cases {
		if got := IsMarketOpen(c.t); got != c.want {
			t.Errorf("%s: IsMarketOpen = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestNextOpen(t *testing.T) {
	// Friday after close: the next open is Monday 9:30.
	friEvening := et(time.June, 5, 18, 0)
	next := NextOpen(friEvening)
	want := et(time.June, 8, 9, 30)
	if !next.Equal(want) {
		t.Errorf("NextOpen(Fri evening) = %s, want %s", next, want)
	}

	// Early on a trading day: today's open.
	tueMorning := et(time.June, 2, 7, 0)
	next = NextOpen(tueMorning)
	want = et(time.June, 2, 9, 30)
	if !next.Equal(want) {
		t.Errorf("NextOpen(Tue 7am) = %s, want %s", next, want)
	}

	// Day before a holiday weekend (Jul 3 observed): skips to Monday Jul 6.
	thuEvening := et(time.July, 2, 18, 0)
	next = NextOpen(thuEvening)
	want = et(time.July, 6, 9, 30)
	if !next.Equal(want) {
		t.Errorf("NextOpen(Jul 2 evening) = %s, want %s", next, want)
	}
}

func TestNextPreOpen(t *testing.T) {
	tueMorning := et(time.June, 2, 7, 0)
	pre := NextPreOpen(tueMorning)
	want := et(time.June, 2, 9, 25)
	if !pre.Equal(want) {
		t.Errorf("NextPreOpen = %s, want %s", pre, want)
	}
}

func TestTimeUntilClose(t *testing.T) {
	if d := TimeUntilClose(et(time.June, 2, 15, 0)); d != time.Hour {
		t.Errorf("TimeUntilClose(3pm) = %s, want 1h", d)
	}
	if d := TimeUntilClose(et(time.June, 2, 18, 0)); d != 0 {
		t.Errorf("TimeUntilClose(6pm) = %s, want 0", d)
	}
}
