// Package recurrence computes contest occurrence times. Every rule is
// evaluated in India Standard Time regardless of the host timezone, so a
// "Sunday 19:00" rule means 19:00 IST on every machine.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// IST is the fixed UTC+05:30 zone rules are evaluated in. A fixed zone avoids
// depending on tzdata being installed in the container.
var IST = time.FixedZone("IST", 5*60*60+30*60)

// ErrInvalidRule is returned when a rule cannot be built from its fields.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Rule yields the occurrences of a recurring event.
//
// Next returns the smallest instant strictly after `after` that satisfies the
// rule. Implementations are immutable values: the result depends only on
// `after` and the rule itself.
type Rule interface {
	Next(after time.Time) time.Time
	String() string
}

// DayTimeOfWeek fires at a fixed time of day on a set of weekdays.
type DayTimeOfWeek struct {
	days   []time.Weekday
	hour   int
	minute int
}

// NewDayTimeOfWeek validates and builds a day/time rule. Duplicate weekdays
// are collapsed.
func NewDayTimeOfWeek(days []time.Weekday, hour, minute int) (DayTimeOfWeek, error) {
	if len(days) == 0 {
		return DayTimeOfWeek{}, fmt.Errorf("%w: at least one weekday required", ErrInvalidRule)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return DayTimeOfWeek{}, fmt.Errorf("%w: time %02d:%02d out of range", ErrInvalidRule, hour, minute)
	}
	seen := make(map[time.Weekday]struct{}, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return DayTimeOfWeek{}, fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, d)
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return DayTimeOfWeek{days: out, hour: hour, minute: minute}, nil
}

// Days returns a copy of the rule's weekdays in ascending order.
func (r DayTimeOfWeek) Days() []time.Weekday {
	return append([]time.Weekday(nil), r.days...)
}

// Next implements Rule.
func (r DayTimeOfWeek) Next(after time.Time) time.Time {
	local := after.In(IST)
	var best time.Time
	for _, d := range r.days {
		offset := (int(d) - int(local.Weekday()) + 7) % 7
		cand := time.Date(local.Year(), local.Month(), local.Day()+offset, r.hour, r.minute, 0, 0, IST)
		// Same weekday but the time of day is already behind us: next week.
		if !cand.After(after) {
			cand = cand.AddDate(0, 0, 7)
		}
		if best.IsZero() || cand.Before(best) {
			best = cand
		}
	}
	return best
}

// String renders the rule in the form accepted by ParseRule.
func (r DayTimeOfWeek) String() string {
	names := make([]string, len(r.days))
	for i, d := range r.days {
		names[i] = strings.ToLower(d.String()[:3])
	}
	return fmt.Sprintf("%s@%02d:%02d", strings.Join(names, ","), r.hour, r.minute)
}

// cronParser accepts the seconds-first six-field layout. Month and
// day-of-month are always "*" in CronFields.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronFields fires on matching second, minute, hour and weekday fields.
type CronFields struct {
	Second    string
	Minute    string
	Hour      string
	DayOfWeek string

	sched cron.Schedule
}

// NewCronFields parses the four supported cron fields.
func NewCronFields(second, minute, hour, dayOfWeek string) (CronFields, error) {
	r := CronFields{
		Second:    strings.TrimSpace(second),
		Minute:    strings.TrimSpace(minute),
		Hour:      strings.TrimSpace(hour),
		DayOfWeek: strings.TrimSpace(dayOfWeek),
	}
	sched, err := cronParser.Parse(r.expr())
	if err != nil {
		return CronFields{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	r.sched = sched
	return r, nil
}

func (r CronFields) expr() string {
	return strings.Join([]string{r.Second, r.Minute, r.Hour, "*", "*", r.DayOfWeek}, " ")
}

// Next implements Rule. The schedule has no zone of its own, so cron
// evaluates it in the zone of the time it is handed.
func (r CronFields) Next(after time.Time) time.Time {
	if r.sched == nil {
		return time.Time{}
	}
	return r.sched.Next(after.In(IST))
}

// String renders the rule in the form accepted by ParseRule.
func (r CronFields) String() string { return "cron:" + r.expr() }

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseRule builds a Rule from its textual form:
//
//	cron:0 0 19 * * 0     six-field cron, month and day-of-month must be "*"
//	0 24 16 * * 0,3       same, without the prefix
//	sun,wed@19:00         weekdays by name or number (0=Sunday) and HH:MM
func ParseRule(spec string) (Rule, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, fmt.Errorf("%w: empty schedule", ErrInvalidRule)
	}
	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	}
	if strings.Contains(s, "@") {
		return parseDayTime(s)
	}
	return parseCron(s)
}

func parseCron(expr string) (Rule, error) {
	f := strings.Fields(expr)
	if len(f) != 6 {
		return nil, fmt.Errorf("%w: cron needs 6 fields (sec min hour dom month dow), got %d", ErrInvalidRule, len(f))
	}
	if f[3] != "*" || f[4] != "*" {
		return nil, fmt.Errorf("%w: day-of-month and month must be '*'", ErrInvalidRule)
	}
	return NewCronFields(f[0], f[1], f[2], f[5])
}

func parseDayTime(s string) (Rule, error) {
	daysPart, clock, _ := strings.Cut(s, "@")
	hh, mm, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return nil, fmt.Errorf("%w: time must be HH:MM, got %q", ErrInvalidRule, clock)
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil {
		return nil, fmt.Errorf("%w: time must be HH:MM, got %q", ErrInvalidRule, clock)
	}

	var days []time.Weekday
	for _, tok := range strings.Split(daysPart, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		if d, ok := weekdayNames[tok]; ok {
			days = append(days, d)
			continue
		}
		if len(tok) > 3 {
			if d, ok := weekdayNames[tok[:3]]; ok {
				days = append(days, d)
				continue
			}
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: unknown weekday %q", ErrInvalidRule, tok)
		}
		days = append(days, time.Weekday(n))
	}
	return NewDayTimeOfWeek(days, hour, minute)
}
