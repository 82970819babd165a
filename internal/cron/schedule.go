// Package cron implements the Scheduler: a durable cron/interval executor
// driven by the job table (pkg/models.CronJob), dispatching fires through
// the Chat Engine with per-job concurrency, timeouts, and execution
// history.
//
// Schedules are parsed as either an interval shorthand or a 6-field cron
// expression evaluated via github.com/robfig/cron/v3. A Cron Job carries
// exactly one payload type ("prompt"), dispatched through the Chat Engine.
package cron

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var intervalPattern = regexp.MustCompile(`^(\d+)([mh])$`)

// cronParser evaluates the 6-field form: sec min hour dom mon dow.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ScheduleKind discriminates the two supported schedule syntaxes.
type ScheduleKind string

const (
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule is a parsed form of a CronJob.Schedule string: either the
// `Nm`/`Nh` interval shorthand or a 6-field cron expression.
type Schedule struct {
	Kind     ScheduleKind
	Interval time.Duration
	CronExpr string
	cronSpec cron.Schedule
}

// ParseSchedule parses a CronJob's schedule expression: interval
// `^\d+[mh]$`, else a 6-field cron expression (seconds included).
func ParseSchedule(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("schedule is required")
	}
	if m := intervalPattern.FindStringSubmatch(spec); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Schedule{}, fmt.Errorf("invalid interval schedule %q", spec)
		}
		unit := time.Minute
		if m[2] == "h" {
			unit = time.Hour
		}
		return Schedule{Kind: ScheduleInterval, Interval: time.Duration(n) * unit}, nil
	}
	fields := strings.Fields(spec)
	if len(fields) != 6 {
		return Schedule{}, fmt.Errorf("invalid cron schedule %q: expected 6 fields, got %d", spec, len(fields))
	}
	parsed, err := cronParser.Parse(spec)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return Schedule{Kind: ScheduleCron, CronExpr: spec, cronSpec: parsed}, nil
}

// Next returns the next fire time strictly after from. Intervals fire
// every N minutes/hours from the scheduler's reference start time; drift
// is not compensated. Cron schedules are evaluated in loc.
func (s Schedule) Next(from time.Time, loc *time.Location) time.Time {
	switch s.Kind {
	case ScheduleInterval:
		return from.Add(s.Interval)
	case ScheduleCron:
		return s.cronSpec.Next(from.In(loc))
	default:
		return time.Time{}
	}
}
