package cron

import (
	"testing"
	"time"
)

func TestParseScheduleInterval(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := ParseSchedule("5m")
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if sched.Kind != ScheduleInterval {
		t.Fatalf("expected interval kind, got %v", sched.Kind)
	}
	next := sched.Next(now, time.UTC)
	want := now.Add(5 * time.Minute)
	if !next.Equal(want) {
		t.Fatalf("expected next run at %v, got %v", want, next)
	}
}

func TestParseScheduleIntervalHours(t *testing.T) {
	sched, err := ParseSchedule("2h")
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if sched.Interval != 2*time.Hour {
		t.Fatalf("expected 2h interval, got %v", sched.Interval)
	}
}

func TestParseScheduleCron(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := ParseSchedule("0 */5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule() error = %v", err)
	}
	if sched.Kind != ScheduleCron {
		t.Fatalf("expected cron kind, got %v", sched.Kind)
	}
	next := sched.Next(now, time.UTC)
	if !next.After(now) {
		t.Fatalf("expected next run after now, got %v", next)
	}
}

func TestParseScheduleRejectsBadForm(t *testing.T) {
	for _, bad := range []string{"", "5", "5x", "0 0 0 * *", "not a schedule"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Fatalf("expected error for schedule %q", bad)
		}
	}
}
