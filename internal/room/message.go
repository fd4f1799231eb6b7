package room

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind discriminates every message that crosses a room boundary.
type Kind string

const (
	KindChat         Kind = "chat"
	KindHello        Kind = "hello"
	KindStateRequest Kind = "state-request"
	KindState        Kind = "state"
	KindMove         Kind = "move"
	KindJoined       Kind = "joined"
	KindError        Kind = "error"
)

// IsGame reports whether the kind belongs to the game-state protocol.
func (k Kind) IsGame() bool {
	switch k {
	case KindHello, KindStateRequest, KindState, KindMove:
		return true
	}
	return false
}

// Message is one frame of the shared room vocabulary. Fields outside the
// variant for a given Type are zero; raw keeps the original wire bytes so a
// relayed message reaches the far side with its payload intact (moves carry
// sender-defined fields the room does not model).
type Message struct {
	Type      Kind   `json:"type"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	GameID   string          `json:"gameId,omitempty"`
	Seq      json.RawMessage `json:"seq,omitempty"`
	Position string          `json:"position,omitempty"`
	RoomCode string          `json:"roomCode,omitempty"`

	ErrMessage string `json:"message,omitempty"`

	raw json.RawMessage
}

// Decode parses one wire frame. The returned message remembers its original
// bytes; Encode round-trips them verbatim.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	m.raw = append(json.RawMessage(nil), data...)
	return m, nil
}

// Encode returns the wire form: the original bytes for a decoded message,
// otherwise a fresh marshal.
func (m Message) Encode() []byte {
	if m.raw != nil {
		return m.raw
	}
	b, _ := json.Marshal(m)
	return b
}

// SeqNumber extracts the numeric sequence number, if the message carries one.
// A missing or non-numeric seq field reports ok=false; such messages bypass
// the last-writer-wins check entirely.
func (m Message) SeqNumber() (float64, bool) {
	if len(m.Seq) == 0 {
		return 0, false
	}
	s, err := strconv.ParseFloat(string(m.Seq), 64)
	if err != nil {
		return 0, false
	}
	return s, true
}

// WithTimestamp fills a missing timestamp and rewrites the cached wire bytes
// so the relayed frame carries it too. The timestamp is spliced into the
// original frame's fields, so payload keys the room does not model survive
// the rewrite.
func (m Message) WithTimestamp(now time.Time) Message {
	if m.Timestamp != 0 {
		return m
	}
	m.Timestamp = now.UnixMilli()

	if m.raw != nil {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(m.raw, &fields); err == nil {
			fields["timestamp"] = json.RawMessage(strconv.FormatInt(m.Timestamp, 10))
			if b, err := json.Marshal(fields); err == nil {
				m.raw = b
				return m
			}
		}
	}

	m.raw = nil
	m.raw = m.Encode()
	return m
}

// NewChat builds a room-originated chat message (system notices, messages
// submitted by centralized clients).
func NewChat(username, text string, now time.Time) Message {
	m := Message{
		Type:      KindChat,
		Username:  username,
		Text:      text,
		Timestamp: now.UnixMilli(),
	}
	m.raw = m.Encode()
	return m
}

// NewState builds a state snapshot reply for hello / state-request.
func NewState(gameID string, seq float64, position string) Message {
	m := Message{
		Type:     KindState,
		GameID:   gameID,
		Position: position,
		Seq:      json.RawMessage(strconv.FormatFloat(seq, 'f', -1, 64)),
	}
	m.raw = m.Encode()
	return m
}
