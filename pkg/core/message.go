package core

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Message type values recognized by the collaboration channel.
const (
	TypeJoinSession    = "join_session"
	TypeLeaveSession   = "leave_session"
	TypeCursorPosition = "cursor_position"
	TypeEditOperation  = "edit_operation"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeAuth           = "auth"
	TypeTest           = "test"
)

var knownTypes = map[string]struct{}{
	TypeJoinSession:    {},
	TypeLeaveSession:   {},
	TypeCursorPosition: {},
	TypeEditOperation:  {},
	TypePing:           {},
	TypePong:           {},
	TypeAuth:           {},
	TypeTest:           {},
}

// Message is the JSON envelope carried over the collaboration channel.
// Payload contents are opaque to the connection layer.
type Message struct {
	// Type identifies the message kind; must be one of the recognized types.
	Type string `json:"type"`
	// SessionID identifies the collaboration session, when applicable.
	SessionID string `json:"sessionId,omitempty"`
	// UserID identifies the sending user.
	UserID int64 `json:"userId,omitempty"`
	// UserName is the display name of the sending user.
	UserName string `json:"userName,omitempty"`
	// Timestamp is the send time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Payload carries message-specific data, opaque at this layer.
	Payload map[string]any `json:"payload,omitempty"`
}

// NewMessage creates a message of the given type stamped with the current time.
func NewMessage(msgType string) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode marshals the message to its JSON wire form.
func (m Message) Encode() ([]byte, error) {
	data, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a raw text frame into a Message. It returns
// ErrMalformedMessage wrapped with detail for invalid JSON, a missing type,
// or an unrecognized type; callers log and drop such frames.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: invalid json: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if _, ok := knownTypes[msg.Type]; !ok {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}
	return msg, nil
}

// KnownType reports whether the given type value is recognized by the channel.
func KnownType(msgType string) bool {
	_, ok := knownTypes[msgType]
	return ok
}
