package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Freq is the repeat cadence of a rule.
type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = [...]string{Daily: "DAILY", Weekly: "WEEKLY", Monthly: "MONTHLY", Yearly: "YEARLY"}

func (f Freq) name() string {
	if int(f) < len(freqNames) {
		return freqNames[f]
	}
	return ""
}

// weekdayCodes holds the two-letter RRULE day codes indexed by time.Weekday.
var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func weekdayFromCode(code string) (time.Weekday, bool) {
	for wd, c := range weekdayCodes {
		if c == code {
			return time.Weekday(wd), true
		}
	}
	return 0, false
}

// Rule is the RRULE subset recurring tasks and events use. Anything the
// parser doesn't know is rejected rather than ignored, so a stored rule
// always round-trips.
type Rule struct {
	Freq       Freq
	Interval   int            // default 1; 2 = biweekly when Freq=Weekly
	ByDay      []time.Weekday // WEEKLY only; empty means the anchor's weekday
	ByMonthDay int            // MONTHLY only; 0 means the anchor's day
	Count      int            // max occurrences, 0 = unlimited
	Until      *time.Time     // last occurrence date, nil = no limit
}

// Parse reads a rule like "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2".
func Parse(raw string) (Rule, error) {
	if raw == "" {
		return Rule{}, fmt.Errorf("empty rule")
	}

	rule := Rule{Interval: 1}
	seenFreq := false
	for _, field := range strings.Split(raw, ";") {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			return Rule{}, fmt.Errorf("malformed field %q", field)
		}

		var err error
		switch key {
		case "FREQ":
			err = rule.setFreq(val)
			seenFreq = seenFreq || err == nil
		case "INTERVAL":
			rule.Interval, err = positiveInt(key, val)
		case "BYDAY":
			err = rule.setByDay(val)
		case "BYMONTHDAY":
			rule.ByMonthDay, err = positiveInt(key, val)
			if err == nil && rule.ByMonthDay > 31 {
				err = fmt.Errorf("BYMONTHDAY out of range: %d", rule.ByMonthDay)
			}
		case "COUNT":
			rule.Count, err = positiveInt(key, val)
		case "UNTIL":
			err = rule.setUntil(val)
		default:
			err = fmt.Errorf("unsupported key %q", key)
		}
		if err != nil {
			return Rule{}, err
		}
	}
	if !seenFreq {
		return Rule{}, fmt.Errorf("FREQ is required")
	}
	return rule, nil
}

func (r *Rule) setFreq(val string) error {
	for f, name := range freqNames {
		if name == val {
			r.Freq = Freq(f)
			return nil
		}
	}
	return fmt.Errorf("unknown frequency %q", val)
}

func (r *Rule) setByDay(val string) error {
	for _, code := range strings.Split(val, ",") {
		wd, ok := weekdayFromCode(strings.TrimSpace(code))
		if !ok {
			return fmt.Errorf("unknown day %q", code)
		}
		r.ByDay = append(r.ByDay, wd)
	}
	return nil
}

func (r *Rule) setUntil(val string) error {
	for _, layout := range []string{"20060102T150405Z", "20060102"} {
		if t, err := time.Parse(layout, val); err == nil {
			r.Until = &t
			return nil
		}
	}
	return fmt.Errorf("invalid UNTIL %q", val)
}

func positiveInt(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: %q", key, val)
	}
	return n, nil
}

// String renders the rule back to RRULE text. Defaults are omitted, so a
// parsed rule serializes to what came in.
func (r Rule) String() string {
	parts := []string{"FREQ=" + r.Freq.name()}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		codes := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			codes[i] = weekdayCodes[d]
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if r.ByMonthDay > 0 {
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.ByMonthDay))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.Format("20060102T150405Z"))
	}
	return strings.Join(parts, ";")
}

// Describe renders the rule for humans, e.g. "Repeats every 2 weeks".
func (r Rule) Describe() string {
	adverbs := [...]string{Daily: "daily", Weekly: "weekly", Monthly: "monthly", Yearly: "yearly"}
	units := [...]string{Daily: "days", Weekly: "weeks", Monthly: "months", Yearly: "years"}

	desc := "Repeats " + adverbs[r.Freq]
	if r.Interval > 1 {
		desc = fmt.Sprintf("Repeats every %d %s", r.Interval, units[r.Freq])
	}
	if r.Freq == Weekly && len(r.ByDay) > 0 {
		names := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			names[i] = d.String()[:3]
		}
		desc += " on " + strings.Join(names, ", ")
	}
	return desc
}
