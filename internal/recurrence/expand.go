package recurrence

import "time"

// Occurrence is one concrete instance of a recurring event.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Cap on generated occurrences so a malformed rule cannot spin forever.
const maxOccurrences = 10000

// Next returns the first occurrence starting at or after the given time, or
// the zero time if the rule produces nothing in the year that follows.
func Next(rule Rule, eventStart time.Time, after time.Time) time.Time {
	if after.Before(eventStart) {
		after = eventStart
	}
	occs := Expand(rule, eventStart, eventStart.Add(time.Hour), after, after.AddDate(1, 0, 1))
	if len(occs) == 0 {
		return time.Time{}
	}
	return occs[0].Start
}

// Expand materializes the rule's occurrences overlapping [rangeStart,
// rangeEnd). eventStart and eventEnd describe the first occurrence; their gap
// sets every occurrence's duration. COUNT counts from the anchor, so a window
// deep into the series sees fewer than COUNT entries.
func Expand(rule Rule, eventStart, eventEnd time.Time, rangeStart, rangeEnd time.Time) []Occurrence {
	duration := eventEnd.Sub(eventStart)
	next := stepper(rule, eventStart)

	var out []Occurrence
	for n := 1; n <= maxOccurrences; n++ {
		start := next()
		if start.IsZero() {
			break
		}
		if rule.Until != nil && start.After(*rule.Until) {
			break
		}
		if !start.Before(rangeEnd) {
			break
		}
		if rule.Count > 0 && n > rule.Count {
			break
		}
		end := start.Add(duration)
		if end.After(rangeStart) {
			out = append(out, Occurrence{Start: start, End: end})
		}
	}
	return out
}

// stepper returns a generator yielding the rule's occurrence starts in order,
// beginning with the anchor itself. An unknown frequency yields nothing.
func stepper(rule Rule, anchor time.Time) func() time.Time {
	switch rule.Freq {
	case Daily:
		return intervalStepper(anchor, func(t time.Time) time.Time {
			return t.AddDate(0, 0, rule.Interval)
		})
	case Weekly:
		if len(rule.ByDay) > 0 {
			return weekdayStepper(rule, anchor)
		}
		return intervalStepper(anchor, func(t time.Time) time.Time {
			return t.AddDate(0, 0, 7*rule.Interval)
		})
	case Monthly:
		return monthStepper(rule, anchor)
	case Yearly:
		return yearStepper(rule, anchor)
	}
	return func() time.Time { return time.Time{} }
}

func intervalStepper(anchor time.Time, step func(time.Time) time.Time) func() time.Time {
	cur, first := anchor, true
	return func() time.Time {
		if first {
			first = false
			return cur
		}
		cur = step(cur)
		return cur
	}
}

// weekdayStepper walks BYDAY rules week by week: each eligible week (every
// Interval-th, anchored on Monday) yields one candidate per listed weekday at
// the anchor's clock time, skipping candidates before the anchor itself.
func weekdayStepper(rule Rule, anchor time.Time) func() time.Time {
	week := mondayOf(anchor)
	idx := 0
	return func() time.Time {
		for {
			if idx >= len(rule.ByDay) {
				week = mondayOf(week.AddDate(0, 0, 7*rule.Interval))
				idx = 0
			}
			day := rule.ByDay[idx]
			idx++
			offset := (int(day) - int(time.Monday) + 7) % 7
			candidate := time.Date(
				week.Year(), week.Month(), week.Day()+offset,
				anchor.Hour(), anchor.Minute(), anchor.Second(), 0,
				anchor.Location(),
			)
			if !candidate.Before(anchor) {
				return candidate
			}
		}
	}
}

func mondayOf(t time.Time) time.Time {
	offset := (int(t.Weekday()) - int(time.Monday) + 7) % 7
	monday := t.AddDate(0, 0, -offset)
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
}

// monthStepper pins occurrences to a day of month (BYMONTHDAY, else the
// anchor's day), skipping months too short to hold it.
func monthStepper(rule Rule, anchor time.Time) func() time.Time {
	day := rule.ByMonthDay
	if day == 0 {
		day = anchor.Day()
	}
	cur, first := anchor, true
	return func() time.Time {
		if first {
			first = false
			return cur
		}
		next := cur.AddDate(0, rule.Interval, 0)
		y, m, _ := next.Date()
		for day > daysInMonth(y, m) {
			next = next.AddDate(0, rule.Interval, 0)
			y, m, _ = next.Date()
		}
		cur = time.Date(
			y, m, day,
			anchor.Hour(), anchor.Minute(), anchor.Second(), 0,
			anchor.Location(),
		)
		return cur
	}
}

func yearStepper(rule Rule, anchor time.Time) func() time.Time {
	// A Feb 29 anchor only recurs in leap years.
	leapDay := anchor.Month() == time.February && anchor.Day() == 29
	cur, first := anchor, true
	return func() time.Time {
		if first {
			first = false
			return cur
		}
		next := cur.AddDate(rule.Interval, 0, 0)
		for leapDay && next.Day() != 29 {
			next = next.AddDate(rule.Interval, 0, 0)
		}
		cur = next
		return cur
	}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
