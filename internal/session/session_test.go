package session

import (
	"testing"
	"time"

	"github.com/minsuk-ha/sentinel/internal/models"
)

func testCalendar(t *testing.T, holidays ...string) *Calendar {
	t.Helper()
	c, err := NewCalendar("Asia/Seoul", DefaultHours(), holidays)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return c
}

func kst(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, loc)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

// 2025-08-20 is a Wednesday, 2025-08-22 a Friday, 2025-08-23 a Saturday.
func TestClassify_Boundaries(t *testing.T) {
	c := testCalendar(t)
	cases := []struct {
		at   string
		want models.Session
	}{
		{"2025-08-20 08:59", models.SessionClosed},
		{"2025-08-20 09:00", models.SessionDay},
		{"2025-08-20 15:29", models.SessionDay},
		{"2025-08-20 15:30", models.SessionFuturesWindow},
		{"2025-08-20 17:59", models.SessionFuturesWindow},
		{"2025-08-20 18:00", models.SessionNight},
		{"2025-08-20 23:59", models.SessionNight},
		{"2025-08-21 00:00", models.SessionNight},
		{"2025-08-21 04:59", models.SessionNight},
		{"2025-08-21 05:00", models.SessionClosed},
	}
	for _, tc := range cases {
		if got := c.Classify(kst(t, tc.at)); got != tc.want {
			t.Errorf("Classify(%s) = %s, want %s", tc.at, got, tc.want)
		}
	}
}

func TestClassify_MidnightWrapReferencesPreviousDay(t *testing.T) {
	c := testCalendar(t)

	// Saturday 02:00 follows Friday's night session.
	if got := c.Classify(kst(t, "2025-08-23 02:00")); got != models.SessionNight {
		t.Errorf("Saturday 02:00 = %s, want NIGHT (Friday's session)", got)
	}
	// Saturday 19:00 has no session behind it.
	if got := c.Classify(kst(t, "2025-08-23 19:00")); got != models.SessionClosed {
		t.Errorf("Saturday 19:00 = %s, want CLOSED", got)
	}
	// Monday 02:00 would reference Sunday.
	if got := c.Classify(kst(t, "2025-08-25 02:00")); got != models.SessionClosed {
		t.Errorf("Monday 02:00 = %s, want CLOSED", got)
	}
}

func TestClassify_Weekend(t *testing.T) {
	c := testCalendar(t)
	if got := c.Classify(kst(t, "2025-08-23 10:00")); got != models.SessionClosed {
		t.Errorf("Saturday 10:00 = %s, want CLOSED", got)
	}
}

func TestClassify_Holiday(t *testing.T) {
	c := testCalendar(t, "2025-08-20")
	if got := c.Classify(kst(t, "2025-08-20 10:00")); got != models.SessionClosed {
		t.Errorf("holiday 10:00 = %s, want CLOSED", got)
	}
	if got := c.Classify(kst(t, "2025-08-20 16:00")); got != models.SessionClosed {
		t.Errorf("holiday 16:00 = %s, want CLOSED", got)
	}
	// Night half after a holiday midnight references the holiday.
	if got := c.Classify(kst(t, "2025-08-21 02:00")); got != models.SessionClosed {
		t.Errorf("02:00 after holiday = %s, want CLOSED", got)
	}
	// The holiday's own evening never opens.
	if got := c.Classify(kst(t, "2025-08-20 20:00")); got != models.SessionClosed {
		t.Errorf("holiday 20:00 = %s, want CLOSED", got)
	}
}

func TestIsTradingDay(t *testing.T) {
	c := testCalendar(t, "2025-08-20")
	if c.IsTradingDay(kst(t, "2025-08-20 12:00")) {
		t.Error("holiday counted as trading day")
	}
	if c.IsTradingDay(kst(t, "2025-08-23 12:00")) {
		t.Error("Saturday counted as trading day")
	}
	if !c.IsTradingDay(kst(t, "2025-08-21 12:00")) {
		t.Error("ordinary Thursday not counted as trading day")
	}
}

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"09:00", 540, false},
		{"15:30", 930, false},
		{"00:00", 0, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"9", 0, true},
		{"aa:bb", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseHHMM(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseHHMM(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHHMM(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseHHMM(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNewCalendar_InvalidInput(t *testing.T) {
	if _, err := NewCalendar("Not/AZone", DefaultHours(), nil); err == nil {
		t.Error("expected error for bad timezone")
	}
	if _, err := NewCalendar("Asia/Seoul", DefaultHours(), []string{"20250820"}); err == nil {
		t.Error("expected error for bad holiday format")
	}
}
