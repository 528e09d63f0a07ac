package services

import "time"

// DigestPolicy decides when the full digest is due.
type DigestPolicy struct {
	Period   time.Duration
	Hour     int
	Location *time.Location
}

// IsDue reports whether a digest should be sent at now, given the time of
// the last one (ok is false when there was none). A digest is due when the
// period has elapsed, or when the local calendar day has rolled over and the
// local hour has reached Hour.
func (p DigestPolicy) IsDue(last time.Time, ok bool, now time.Time) bool {
	if !ok || last.IsZero() {
		return true
	}
	if p.Period > 0 && now.Sub(last) >= p.Period {
		return true
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	lastLocal, nowLocal := last.In(loc), now.In(loc)
	ly, lm, ld := lastLocal.Date()
	ny, nm, nd := nowLocal.Date()
	newDay := time.Date(ny, nm, nd, 0, 0, 0, 0, loc).After(time.Date(ly, lm, ld, 0, 0, 0, 0, loc))
	return newDay && nowLocal.Hour() >= p.Hour
}
