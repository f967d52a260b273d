// Package trigger is the in-process evaluator that fires due schedules.
//
// A fixed-period tick (cron @every, default 30s) computes the current local
// weekday and HH:MM, scans the active schedules, and fires every one whose
// time and weekday match and that has not already fired today. The
// last-fired marker is compared by local calendar date, not instant; if the
// host clock jumps backwards across midnight a schedule can refire the same
// calendar day or skip one. That is the documented behavior, deliberately
// not hardened with monotonic-clock bookkeeping.
//
// Ticks never overlap: a tick still running when its successor is due causes
// the successor to be skipped, not queued.
package trigger
