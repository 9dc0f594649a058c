// Package presence keeps the set of users currently online, fed by
// broadcast events and, while the realtime channel is down, by polling.
package presence

import (
	"slices"
	"sync"

	"github.com/cwrk-planet/admin-chat/internal/domain"
)

// Tracker is a set of online user ids. The zero value is not usable;
// use NewTracker.
type Tracker struct {
	mu     sync.RWMutex
	online map[domain.UserID]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{online: make(map[domain.UserID]struct{})}
}

// Apply adds the user on ONLINE and removes it on any other status.
// It reports whether the set changed.
func (t *Tracker) Apply(ev domain.UserPresenceEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, was := t.online[ev.ID]
	if ev.Online() {
		t.online[ev.ID] = struct{}{}
		return !was
	}
	delete(t.online, ev.ID)
	return was
}

// Replace swaps the whole set for a snapshot of online users.
func (t *Tracker) Replace(users []domain.UserResponse) {
	next := make(map[domain.UserID]struct{}, len(users))
	for _, u := range users {
		if u.ID > 0 {
			next[u.ID] = struct{}{}
		}
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
}

func (t *Tracker) IsOnline(id domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[id]
	return ok
}

// Online lists online users in ascending id order.
func (t *Tracker) Online() []domain.UserID {
	t.mu.RLock()
	out := make([]domain.UserID, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.RUnlock()

	slices.Sort(out)
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}
