package scheduler

import "time"

// expandOccurrences turns a start time plus an optional recurrence pattern
// into the concrete list of occurrence starts, first occurrence included.
// Expansion stops at the pattern's end date and is capped by the pattern's
// max occurrences (falling back to the service default).
func expandOccurrences(start time.Time, p *RecurrencePattern, defaultMax int) []time.Time {
	if p == nil {
		return []time.Time{start}
	}
	max := p.MaxOccurrences
	if max <= 0 {
		max = defaultMax
	}
	out := make([]time.Time, 0, max)
	cur := start
	for len(out) < max {
		if p.EndDate != nil && cur.After(*p.EndDate) {
			break
		}
		out = append(out, cur)
		cur = nextOccurrence(cur, *p)
	}
	return out
}

// nextOccurrence advances by the pattern's unit times interval. AddDate
// handles month-length and DST shifts.
func nextOccurrence(t time.Time, p RecurrencePattern) time.Time {
	interval := p.Interval
	if interval <= 0 {
		interval = 1
	}
	switch p.Frequency {
	case FreqWeekly:
		return t.AddDate(0, 0, 7*interval)
	case FreqMonthly:
		return t.AddDate(0, interval, 0)
	default:
		return t.AddDate(0, 0, interval)
	}
}
