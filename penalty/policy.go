/*
policy.go - Escalation table

The table maps a cumulative no-show count onto a suspension duration.
Index 0 is the first offence. Counts past the end of the table repeat the
last entry, so the ladder caps instead of growing without bound.
*/
package penalty

import "time"

// Escalation is the ordered list of suspension durations by offence
// number. A zero duration means warning only, no suspension.
type Escalation []time.Duration

// DefaultEscalation returns the standard ladder:
// warning, 30 minutes, 90 minutes, 24 hours (and 24 hours thereafter).
func DefaultEscalation() Escalation {
	return Escalation{0, 30 * time.Minute, 90 * time.Minute, 24 * time.Hour}
}

// Suspension returns the suspension duration for the given cumulative
// no-show count (1-based). Zero for count < 1.
func (e Escalation) Suspension(count int) time.Duration {
	if count < 1 || len(e) == 0 {
		return 0
	}
	if count > len(e) {
		count = len(e)
	}
	return e[count-1]
}
