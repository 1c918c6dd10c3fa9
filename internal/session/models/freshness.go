package models

import "time"

// FreshnessWindow bounds how long after creation a session may be advanced or
// read for a state-dependent decision. Older sessions are treated as absent
// regardless of their TimeToLive.
const FreshnessWindow = 60 * time.Minute

// FreshnessCutoff is the earliest createdAt (epoch millis, exclusive) that is
// still fresh at now.
func FreshnessCutoff(now time.Time) int64 {
	return now.Add(-FreshnessWindow).UnixMilli()
}

// IsFresh reports whether createdAt falls inside the freshness window.
func IsFresh(createdAt int64, now time.Time) bool {
	return createdAt > FreshnessCutoff(now)
}
