// Package progress grades challenge submissions and maintains each
// subscriber's advancement record: solved totals, points, streaks, and the
// current week pointer that the delivery scheduler reads.
package progress
