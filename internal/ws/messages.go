package ws

import (
	"encoding/json"

	"meshchatgo/internal/room"
)

// Envelope wraps every chat-endpoint frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "join-room"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON object
}

// outEnvelope is the server→client form; Body is marshalled in place.
type outEnvelope struct {
	Event string `json:"event"`
	Body  any    `json:"body,omitempty"`
}

// ──────────────────────────── Request / Response DTOs ─────────────────────────

// JoinRoomRequest is the body for "join-room".
type JoinRoomRequest struct {
	Topic    string `json:"topic"`
	Secret   string `json:"secret"`
	Username string `json:"username"`
}

// JoinedRoomBody is the reply for a successful join.
type JoinedRoomBody struct {
	Topic     string            `json:"topic"`
	Messages  []json.RawMessage `json:"messages"`
	UserCount int               `json:"userCount"`
}

// SendMessageRequest is the body for "send-message".
type SendMessageRequest struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

// UserCountBody announces the combined participant count.
type UserCountBody struct {
	Count int `json:"count"`
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

// historyBodies converts a room backlog into raw reply bodies.
func historyBodies(msgs []room.Message) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, json.RawMessage(m.Encode()))
	}
	return out
}
