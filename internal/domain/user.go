package domain

import "strconv"

type UserID int64

func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

func ParseUserID(s string) (UserID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrInvalidUserID
	}
	return UserID(n), nil
}

// Profile is the local (signed-in) user.
type Profile struct {
	ID     UserID
	Name   string
	Avatar string
}

// UserResponse is the REST user representation.
type UserResponse struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	Active   bool   `json:"active"`
}

// UserIDPayload is the body of presence announcements and user-disable.
type UserIDPayload struct {
	ID UserID `json:"id"`
}
