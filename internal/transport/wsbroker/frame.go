package wsbroker

import "encoding/json"

// Frame types.
const (
	FrameSubscribe = "subscribe" // client → server
	FramePublish   = "publish"   // client → server
	FrameConnected = "connected" // server → client, handshake ack
	FrameMessage   = "message"   // server → client
	FrameError     = "error"     // server → client
)

// Frame is the single envelope exchanged over the socket in both
// directions.
type Frame struct {
	Type        string          `json:"type"`
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
}
