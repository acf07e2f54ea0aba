package enforcement

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

const DefaultDedupeWindow = 30 * time.Second

// Suppresses duplicate cleanup jobs for the same user. A spam burst across several chats triggers several bans in quick succession; the first cleanup job catches all of them.
//
// Stale entries are pruned on each call, so the map stays bounded by the number of users banned within one window.
type CleanupDeduper struct {
	Window time.Duration
	Now    func() time.Time

	last *xsync.MapOf[int64, time.Time]
}

func NewCleanupDeduper(window time.Duration) *CleanupDeduper {
	return &CleanupDeduper{
		Window: window,
		Now:    time.Now,
		last:   xsync.NewMapOf[int64, time.Time](),
	}
}

// Reports whether a cleanup should be scheduled for the user, and if so records the schedule time.
func (d *CleanupDeduper) ShouldSchedule(userID int64) bool {
	now := d.Now()
	d.prune(now)

	schedule := false
	d.last.Compute(userID, func(prev time.Time, loaded bool) (time.Time, bool) {
		if loaded && now.Sub(prev) < d.Window {
			return prev, false
		}
		schedule = true
		return now, false
	})
	return schedule
}

// Clears the record for a user, eg when scheduling failed.
func (d *CleanupDeduper) Forget(userID int64) {
	d.last.Delete(userID)
}

func (d *CleanupDeduper) Len() int {
	return d.last.Size()
}

func (d *CleanupDeduper) prune(now time.Time) {
	d.last.Range(func(userID int64, at time.Time) bool {
		if now.Sub(at) >= d.Window {
			d.last.Delete(userID)
		}
		return true
	})
}
