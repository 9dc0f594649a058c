package rooms

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	calls atomic.Int32
	rooms []domain.MessageRoom
	err   error
}

func (s *stubSource) DetailedRooms(_ context.Context, user domain.UserID) ([]domain.MessageRoom, error) {
	s.calls.Add(1)
	return s.rooms, s.err
}

func sampleRooms() []domain.MessageRoom {
	return []domain.MessageRoom{
		{
			ID:   "A",
			Name: "Đơn hàng #12",
			Members: []domain.RoomMember{
				{UserID: 1, Username: "admin", IsAdmin: true},
				{UserID: 3, Username: "Nguyễn Lan"},
			},
		},
		{
			ID:   "B",
			Name: "Support",
			Members: []domain.RoomMember{
				{UserID: 1, Username: "admin", IsAdmin: true},
				{UserID: 4, Username: "STRASSE"},
			},
			LastMessage: &domain.Message{ID: "b1", Content: "old", RoomID: "B"},
		},
		{
			ID:      "G",
			Name:    "Team",
			IsGroup: true,
			Members: []domain.RoomMember{
				{UserID: 1, Username: "admin", IsAdmin: true},
				{UserID: 5, Username: "kim"},
				{UserID: 6, Username: "bao"},
			},
		},
	}
}

func loaded(t *testing.T) (*Directory, *stubSource) {
	t.Helper()
	src := &stubSource{rooms: sampleRooms()}
	d := New(Options{Source: src, User: 1})
	require.NoError(t, d.Load(context.Background()))
	return d, src
}

func TestLoad(t *testing.T) {
	d, _ := loaded(t)
	assert.Len(t, d.Rooms(), 3)
	assert.NoError(t, d.LoadErr())
}

func TestLoad_FailureKeepsPreviousList(t *testing.T) {
	d, src := loaded(t)
	src.err = errors.New("timeout")

	require.Error(t, d.Load(context.Background()))
	assert.Error(t, d.LoadErr())
	assert.Len(t, d.Rooms(), 3)

	src.err = nil
	require.NoError(t, d.Load(context.Background()))
	assert.NoError(t, d.LoadErr())
}

func TestUpdateLastMessage_InPlaceWithoutReload(t *testing.T) {
	d, src := loaded(t)
	m := domain.Message{ID: "b2", Content: "new", RoomID: "B", SentAt: domain.NewTimestamp(time.Now())}

	assert.True(t, d.UpdateLastMessage(m))

	b, ok := d.Room("B")
	require.True(t, ok)
	require.NotNil(t, b.LastMessage)
	assert.Equal(t, "b2", b.LastMessage.ID)

	a, _ := d.Room("A")
	assert.Nil(t, a.LastMessage)
	assert.Equal(t, int32(1), src.calls.Load())

	assert.False(t, d.UpdateLastMessage(domain.Message{ID: "z", RoomID: "unknown"}))
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestRooms_ReturnsCopies(t *testing.T) {
	d, _ := loaded(t)
	rs := d.Rooms()
	rs[1].LastMessage.Content = "mutated"
	rs[0].Members[0].Username = "mutated"

	b, _ := d.Room("B")
	assert.Equal(t, "old", b.LastMessage.Content)
	a, _ := d.Room("A")
	assert.Equal(t, "admin", a.Members[0].Username)
}

func TestSearch(t *testing.T) {
	d, _ := loaded(t)

	ids := func(rs []domain.MessageRoom) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []string{"A", "B", "G"}, ids(d.Search("")))
	assert.Equal(t, []string{"B"}, ids(d.Search("support")))
	assert.Equal(t, []string{"A"}, ids(d.Search("ĐƠN")))
	assert.Equal(t, []string{"A"}, ids(d.Search("nguyễn")))
	assert.Equal(t, []string{"G"}, ids(d.Search("KIM")))
	assert.Equal(t, []string{"A", "B", "G"}, ids(d.Search("ADMIN")))
	assert.Empty(t, d.Search("nobody"))
}

func TestSelect_OneToOne(t *testing.T) {
	d, _ := loaded(t)
	sel, err := d.Select("A")
	require.NoError(t, err)

	assert.False(t, sel.GroupMode)
	require.NotNil(t, sel.Counterpart)
	assert.Equal(t, domain.UserID(3), sel.Counterpart.UserID)
	assert.Len(t, sel.Members, 2)
	assert.Equal(t, "A", d.Selected())
}

func TestSelect_GroupMode(t *testing.T) {
	d, _ := loaded(t)
	sel, err := d.Select("G")
	require.NoError(t, err)

	assert.True(t, sel.GroupMode)
	assert.Nil(t, sel.Counterpart)
	assert.Len(t, sel.Members, 3)
}

func TestSelect_Unknown(t *testing.T) {
	d, _ := loaded(t)
	_, err := d.Select("nope")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestCounterpart_AllAdmins(t *testing.T) {
	r := domain.MessageRoom{Members: []domain.RoomMember{{UserID: 1, IsAdmin: true}}}
	assert.Nil(t, Counterpart(r))
}
