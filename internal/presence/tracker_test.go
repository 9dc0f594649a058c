package presence

import (
	"testing"

	"github.com/cwrk-planet/admin-chat/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestTracker_OnlineThenOffline(t *testing.T) {
	tr := NewTracker()

	assert.True(t, tr.Apply(domain.UserPresenceEvent{ID: 5, Status: domain.StatusOnline}))
	assert.True(t, tr.IsOnline(5))

	assert.True(t, tr.Apply(domain.UserPresenceEvent{ID: 5, Status: domain.StatusOffline}))
	assert.False(t, tr.IsOnline(5))
	assert.Zero(t, tr.Len())
}

func TestTracker_SetSemantics(t *testing.T) {
	tr := NewTracker()
	on := domain.UserPresenceEvent{ID: 5, Status: domain.StatusOnline}

	assert.True(t, tr.Apply(on))
	assert.False(t, tr.Apply(on))
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_UnknownStatusRemoves(t *testing.T) {
	tr := NewTracker()
	tr.Apply(domain.UserPresenceEvent{ID: 5, Status: domain.StatusOnline})

	assert.True(t, tr.Apply(domain.UserPresenceEvent{ID: 5, Status: "AWAY"}))
	assert.False(t, tr.IsOnline(5))
	assert.False(t, tr.Apply(domain.UserPresenceEvent{ID: 9, Status: domain.StatusOffline}))
}

func TestTracker_OnlineSorted(t *testing.T) {
	tr := NewTracker()
	for _, id := range []domain.UserID{9, 2, 5} {
		tr.Apply(domain.UserPresenceEvent{ID: id, Status: domain.StatusOnline})
	}
	assert.Equal(t, []domain.UserID{2, 5, 9}, tr.Online())
}

func TestTracker_Replace(t *testing.T) {
	tr := NewTracker()
	tr.Apply(domain.UserPresenceEvent{ID: 1, Status: domain.StatusOnline})

	tr.Replace([]domain.UserResponse{{ID: 2}, {ID: 3}, {ID: 0}})

	assert.False(t, tr.IsOnline(1))
	assert.Equal(t, []domain.UserID{2, 3}, tr.Online())
}

func TestTracker_StartsEmpty(t *testing.T) {
	assert.Empty(t, NewTracker().Online())
}
