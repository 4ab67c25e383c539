// Package usage meters monthly consumption of metered features. The only
// metered feature today is AI rewrites.
package usage

import "time"

// Counter is the metered state stored on a subscription row.
type Counter struct {
	Used    int
	ResetAt *time.Time
}

// NextMonthStart returns the first instant of the calendar month after now, in UTC.
func NextMonthStart(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

// Expired reports whether the counter is due for a reset at now. A counter
// without a watermark has never been reset and is always due.
func (c Counter) Expired(now time.Time) bool {
	return c.ResetAt == nil || !now.Before(*c.ResetAt)
}

// Advance computes the counter after one more consumption. limit == nil
// means unlimited. ok is false when the limit is reached, in which case the
// returned counter is c unchanged.
//
// The watermark is checked before the limit, so a counter that is full but
// expired is reset and admits the call.
func Advance(c Counter, limit *int, now time.Time) (next Counter, ok bool) {
	used := c.Used
	resetAt := c.ResetAt
	if c.Expired(now) {
		used = 0
		w := NextMonthStart(now)
		resetAt = &w
	}
	if limit != nil && used >= *limit {
		return c, false
	}
	return Counter{Used: used + 1, ResetAt: resetAt}, true
}
