// Package system provides the wall clock used for run timestamps.
package system

import "time"

// StampLayout formats run timestamps used in folder and report names.
const StampLayout = "2006-01-02_15-04-05"

// Clock implements crawler.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New creates a Clock reporting times in loc; nil means the local zone,
// which is what operators see in folder names.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// Fixed is a Clock frozen at one instant.
type Fixed time.Time

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}

// Stamp renders t with StampLayout.
func Stamp(t time.Time) string {
	return t.Format(StampLayout)
}
