package handler

import (
	"testing"
	"time"
)

// ─── parseTime ───

func TestParseTime_Layouts(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 5, 250_000_000, time.UTC)
	cases := []string{
		"2024-03-01T12:30:05.25Z",
		"2024-03-01T14:30:05.25+02:00",
		"2024-03-01 12:30:05.250",
	}
	for _, in := range cases {
		got, err := parseTime(in)
		if err != nil {
			t.Fatalf("parseTime(%q): unexpected error: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseTime(%q): expected %v, got %v", in, want, got)
		}
	}

	day, err := parseTime("2024-03-01")
	if err != nil || !day.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected midnight UTC, got %v (%v)", day, err)
	}
}

func TestParseTime_EmptyAndInvalid(t *testing.T) {
	if got, err := parseTime(""); err != nil || !got.IsZero() {
		t.Fatalf("expected zero time, got %v (%v)", got, err)
	}
	if _, err := parseTime("03/01/2024"); err == nil {
		t.Fatal("expected error for unsupported layout")
	}
}

// ─── parseInterval ───

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in     string
		expect time.Duration
	}{
		{"", 0},
		{"1m", time.Minute},
		{"90", 90 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"%Y-%m-%d %H:%M", time.Minute},
		{"%Y-%m-%d %H", time.Hour},
		{"%Y-%m-%d", 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := parseInterval(c.in)
		if err != nil {
			t.Fatalf("parseInterval(%q): unexpected error: %v", c.in, err)
		}
		if got != c.expect {
			t.Fatalf("parseInterval(%q): expected %v, got %v", c.in, c.expect, got)
		}
	}

	for _, bad := range []string{"soon", "-5m", "-3"} {
		if _, err := parseInterval(bad); err == nil {
			t.Fatalf("parseInterval(%q): expected error", bad)
		}
	}
}
