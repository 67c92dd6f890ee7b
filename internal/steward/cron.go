package steward

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronSpec is a parsed 5-field cron expression (minute, hour, day-of-month,
// month, day-of-week); an optional leading seconds field is accepted but
// discarded, since scheduling only ever walks minute-by-minute (spec
// §4.5.2).
type cronSpec struct {
	minute, hour, dom, month, dow fieldSet
}

type fieldSet map[int]bool

// validateCronExpr uses robfig/cron purely for syntax validation — it
// accepts the same 5/6-field grammar and rejects malformed expressions with
// a clear error, without driving scheduling off of its own Schedule (this
// package computes next-fire itself, walking wall-clock minutes, so the
// first fire always lands at least a minute after registration.
func validateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.SecondOptional | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}

// parseCronSpec parses expr into a cronSpec for next-fire walking. It
// accepts 5 fields (minute hour dom month dow) or 6 (seconds minute hour dom
// month dow, seconds discarded).
func parseCronSpec(expr string) (*cronSpec, error) {
	if err := validateCronExpr(expr); err != nil {
		return nil, err
	}
	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		// minute hour dom month dow
	case 6:
		fields = fields[1:]
	default:
		return nil, fmt.Errorf("cron expression must have 5 or 6 fields, got %d", len(fields))
	}

	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}

	return &cronSpec{minute: minute, hour: hour, dom: dom, month: month, dow: dow}, nil
}

// parseField supports *, a literal, a-b ranges, a,b,c lists, and */n steps.
func parseField(field string, min, max int) (fieldSet, error) {
	set := make(fieldSet)

	for _, part := range strings.Split(field, ",") {
		switch {
		case part == "*":
			for v := min; v <= max; v++ {
				set[v] = true
			}
		case strings.HasPrefix(part, "*/"):
			step, err := strconv.Atoi(part[2:])
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("invalid step %q", part)
			}
			for v := min; v <= max; v += step {
				set[v] = true
			}
		case strings.Contains(part, "-"):
			bounds := strings.SplitN(part, "-", 2)
			lo, err1 := strconv.Atoi(bounds[0])
			hi, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || lo > hi || lo < min || hi > max {
				return nil, fmt.Errorf("invalid range %q", part)
			}
			for v := lo; v <= hi; v++ {
				set[v] = true
			}
		default:
			v, err := strconv.Atoi(part)
			if err != nil || v < min || v > max {
				return nil, fmt.Errorf("invalid value %q", part)
			}
			set[v] = true
		}
	}
	return set, nil
}

// nextFire walks forward minute-by-minute from the first minute boundary
// that is at least a full minute past now until every field matches,
// bounded by a 4-year horizon so a pathological expression cannot loop
// forever. Truncating now before adding the minute (rather than after)
// matters whenever now carries seconds: truncating now+1min instead can
// land on a boundary less than a minute away.
func (c *cronSpec) nextFire(now time.Time) (time.Time, bool) {
	t := now.Truncate(time.Minute).Add(time.Minute)
	if t.Before(now.Add(time.Minute)) {
		t = t.Add(time.Minute)
	}
	horizon := now.AddDate(4, 0, 0)

	for t.Before(horizon) {
		if c.minute[t.Minute()] && c.hour[t.Hour()] && c.dom[t.Day()] &&
			c.month[int(t.Month())] && c.dow[int(t.Weekday())] {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}
