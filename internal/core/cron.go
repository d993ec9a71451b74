package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidCron is returned for expressions that are not five numeric fields.
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrUnsupportedTrigger is returned for trigger types other than cron.
	ErrUnsupportedTrigger = errors.New("unsupported trigger type")
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronFields holds the five fields of a cron expression.
type CronFields struct {
	Minute  string
	Hour    string
	Day     string
	Month   string
	Weekday string
}

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("%w: only 5-field cron expressions are supported", ErrInvalidCron)
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}

// Location resolves a trigger timezone hint. Empty and "local" map to time.Local.
func Location(tz string) (*time.Location, error) {
	if tz == "" || strings.EqualFold(tz, DefaultTimezone) {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// CronExpression extracts the cron expression from a task trigger.
func CronExpression(task *ScheduledTask) (string, error) {
	if task.Trigger.Type != TriggerCron {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTrigger, task.Trigger.Type)
	}
	return task.Trigger.Expression, nil
}

// SplitCron splits expr into its five fields. It only checks the field count.
func SplitCron(expr string) (CronFields, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return CronFields{}, fmt.Errorf("%w: %q has %d fields, want 5", ErrInvalidCron, expr, len(parts))
	}
	return CronFields{
		Minute:  parts[0],
		Hour:    parts[1],
		Day:     parts[2],
		Month:   parts[3],
		Weekday: parts[4],
	}, nil
}

// ParseField expands one numeric cron field (never the bare "*") into the
// values it selects within [min, max]. Lists, ranges a-b and steps X/N are
// supported; the result is ascending with duplicates removed.
func ParseField(field string, min, max int) ([]int, error) {
	seen := make(map[int]struct{})
	for _, part := range strings.Split(field, ",") {
		values, err := parseTerm(part, min, max)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidCron, field, err)
		}
		for _, v := range values {
			seen[v] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

func parseTerm(part string, min, max int) ([]int, error) {
	if rng, stepStr, ok := strings.Cut(part, "/"); ok {
		step, err := strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("bad step %q", stepStr)
		}
		start, end := min, max
		if rng != "*" {
			if lo, hi, isRange := strings.Cut(rng, "-"); isRange {
				if start, err = strconv.Atoi(lo); err != nil {
					return nil, fmt.Errorf("bad range start %q", lo)
				}
				if end, err = strconv.Atoi(hi); err != nil {
					return nil, fmt.Errorf("bad range end %q", hi)
				}
			} else if start, err = strconv.Atoi(rng); err != nil {
				return nil, fmt.Errorf("bad step base %q", rng)
			}
		}
		var values []int
		for i := start; i <= end; i += step {
			values = append(values, i)
		}
		return values, nil
	}

	if lo, hi, isRange := strings.Cut(part, "-"); isRange {
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad range start %q", lo)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("bad range end %q", hi)
		}
		var values []int
		for i := start; i <= end; i++ {
			values = append(values, i)
		}
		return values, nil
	}

	v, err := strconv.Atoi(part)
	if err != nil {
		return nil, fmt.Errorf("bad value %q", part)
	}
	return []int{v}, nil
}

// Preview returns the next n fire times of expr in the trigger timezone tz,
// starting after from.
func Preview(expr, tz string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return nil, err
	}
	loc, err := Location(tz)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 5
	}
	return NextOccurrences(schedule, from.In(loc), n), nil
}
