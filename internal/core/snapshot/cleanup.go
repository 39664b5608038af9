package snapshot

import (
	"sort"
	"time"
)

// Retention decides which sessions' snapshots are pruned. The KeepRecent
// newest sessions always survive. Of the rest, a session is pruned if it is
// older than MaxAge or started before Before; with neither set, all of
// the rest are pruned.
type Retention struct {
	KeepRecent int
	MaxAge     time.Duration
	Before     time.Time
}

// Select returns the sessions to delete, oldest first
func (r Retention) Select(sessions []Session, now time.Time) []Session {
	sorted := append([]Session(nil), sessions...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})

	var prune []Session
	for i, s := range sorted {
		if i < r.KeepRecent {
			continue
		}
		if r.expired(s, now) {
			prune = append(prune, s)
		}
	}
	sort.Slice(prune, func(i, j int) bool {
		return prune[i].StartedAt.Before(prune[j].StartedAt)
	})
	return prune
}

func (r Retention) expired(s Session, now time.Time) bool {
	if r.MaxAge <= 0 && r.Before.IsZero() {
		return true
	}
	if r.MaxAge > 0 && now.Sub(s.StartedAt) > r.MaxAge {
		return true
	}
	return !r.Before.IsZero() && s.StartedAt.Before(r.Before)
}
