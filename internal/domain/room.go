package domain

type RoomMember struct {
	UserID   UserID    `json:"user_id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	IsAdmin  bool      `json:"is_admin"`
	LastSeen Timestamp `json:"last_seen"`
}

type MessageRoom struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	IsGroup     bool         `json:"is_group"`
	CreatedBy   UserID       `json:"created_by,omitempty"`
	CreatedAt   Timestamp    `json:"created_at"`
	Members     []RoomMember `json:"members"`
	LastMessage *Message     `json:"last_message,omitempty"`
}

// Clone returns a copy that shares nothing mutable with r.
func (r MessageRoom) Clone() MessageRoom {
	out := r
	out.Members = append([]RoomMember(nil), r.Members...)
	if r.LastMessage != nil {
		m := *r.LastMessage
		out.LastMessage = &m
	}
	return out
}
