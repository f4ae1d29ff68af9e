package clock

import (
	"time"

	_ "time/tzdata"
)

// Clock supplies the current instant in a fixed civil time zone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type System struct {
	loc *time.Location
}

func NewSystem(loc *time.Location) System {
	if loc == nil {
		loc = time.UTC
	}
	return System{loc: loc}
}

func (s System) Now() time.Time            { return time.Now().In(s.loc) }
func (s System) Location() *time.Location { return s.loc }

// Fixed is a settable clock used by tests.
type Fixed struct {
	T   time.Time
	Loc *time.Location
}

func (f *Fixed) Now() time.Time { return f.T.In(f.Location()) }

func (f *Fixed) Location() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }

// Midnight returns the most recent local midnight at or before t.
func Midnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// NextMidnight returns the first local midnight strictly after t.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	m := Midnight(t, loc)
	return time.Date(m.Year(), m.Month(), m.Day()+1, 0, 0, 0, 0, loc)
}

// CivilDays counts whole days elapsed from `from` to `to`, both read in loc.
// Partial days are truncated.
func CivilDays(from, to time.Time, loc *time.Location) int {
	d := to.In(loc).Sub(from.In(loc))
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
