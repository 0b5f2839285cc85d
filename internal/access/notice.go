package access

import (
	"sync"
	"time"
)

// DefaultNoticeTTL is how long a viewer's last denial is remembered.
const DefaultNoticeTTL = 30 * time.Minute

// NoticeTracker hands out a denial notice once per distinct denial for each
// viewer. Observing an allow or wait clears the viewer so a later denial is
// reported again. Viewers not seen for the TTL are forgotten.
type NoticeTracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	last      map[string]noticeEntry
	lastSweep time.Time
	now       func() time.Time
}

type noticeEntry struct {
	key  string
	seen time.Time
}

func NewNoticeTracker(ttl time.Duration) *NoticeTracker {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return &NoticeTracker{
		ttl:  ttl,
		last: make(map[string]noticeEntry),
		now:  time.Now,
	}
}

func (t *NoticeTracker) Observe(viewer string, d Decision) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweep(now)
	if d.Outcome != OutcomeRedirect {
		delete(t.last, viewer)
		return "", false
	}
	key := d.Code + "|" + string(d.Role) + "|" + d.Target
	prev, ok := t.last[viewer]
	t.last[viewer] = noticeEntry{key: key, seen: now}
	if ok && prev.key == key && now.Sub(prev.seen) < t.ttl {
		return "", false
	}
	return Notice(d), true
}

// Forget drops everything known about a viewer.
func (t *NoticeTracker) Forget(viewer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, viewer)
}

// Len reports how many viewers are remembered.
func (t *NoticeTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.last)
}

// sweep runs at most once per TTL; caller holds mu.
func (t *NoticeTracker) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < t.ttl {
		return
	}
	t.lastSweep = now
	for viewer, entry := range t.last {
		if now.Sub(entry.seen) >= t.ttl {
			delete(t.last, viewer)
		}
	}
}
