package digest

import "time"

// Window is the period a digest covers.
type Window struct {
	Start time.Time
	End   time.Time
}

// Label renders the window as "HH:MM–HH:MM" in its own location.
func (w Window) Label() string {
	return w.Start.Format("15:04") + "–" + w.End.Format("15:04")
}

// NextFire returns the first firing strictly after now. Firings start at
// local midnight plus offset and repeat every interval; each day realigns
// to its own midnight, so an interval that does not divide 24h is cut
// short at the day boundary.
func NextFire(now time.Time, interval, offset time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	base := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).Add(offset)
	for base.After(local) {
		base = base.AddDate(0, 0, -1)
	}
	nextBase := base.AddDate(0, 0, 1)

	next := base.Add((local.Sub(base)/interval + 1) * interval)
	if next.After(nextBase) {
		next = nextBase
	}
	return next
}

// ScheduledWindow is the window closed by a firing at fire.
func ScheduledWindow(fire time.Time, interval time.Duration) Window {
	return Window{Start: fire.Add(-interval), End: fire}
}

// CurrentWindow is the in-progress window containing now.
func CurrentWindow(now time.Time, interval, offset time.Duration, loc *time.Location) Window {
	next := NextFire(now, interval, offset, loc)
	return Window{Start: next.Add(-interval), End: next}
}
