package domain

const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

type UserPresenceEvent struct {
	ID       UserID `json:"id"`
	Username string `json:"username,omitempty"`
	Status   string `json:"status"`
}

func (e UserPresenceEvent) Online() bool { return e.Status == StatusOnline }

// PresenceEnvelope is the payload shape of the presence broadcast topic.
type PresenceEnvelope struct {
	Result UserPresenceEvent `json:"result"`
}
