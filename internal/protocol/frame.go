// Package protocol defines the JSON frames exchanged with the chat service
// over the persistent WebSocket connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame types. The server emits everything except TypeChatMessage.
const (
	TypeConnectionEstablished = "connection_established"
	TypeTypingStart           = "typing_start"
	TypeResponseStart         = "response_start"
	TypeResponseChunk         = "response_chunk"
	TypeResponseComplete      = "response_complete"
	TypeError                 = "error"
	TypeChatMessage           = "chat_message"
)

// ErrMalformedFrame is returned when inbound data is not a usable frame.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one discrete event on the wire. Which fields are set depends on Type.
type Frame struct {
	Type           string `json:"type"`
	Message        string `json:"message,omitempty"`
	Content        string `json:"content,omitempty"`
	FullResponse   string `json:"fullResponse,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Decode parses a single frame. Unknown types are accepted so callers can
// ignore them; frames without a type are rejected.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}

// Encode serializes a frame for sending.
func Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// ChatMessage is the only client to server frame.
func ChatMessage(text, conversationID string) Frame {
	return Frame{Type: TypeChatMessage, Message: text, ConversationID: conversationID}
}

func ConnectionEstablished(msg string) Frame {
	return Frame{Type: TypeConnectionEstablished, Message: msg}
}

func TypingStart(conversationID string) Frame {
	return Frame{Type: TypeTypingStart, ConversationID: conversationID}
}

func ResponseStart(conversationID string) Frame {
	return Frame{Type: TypeResponseStart, ConversationID: conversationID}
}

// ResponseChunk carries one fragment plus the text accumulated so far.
// Clients only use Content; FullResponse is informational on chunks.
func ResponseChunk(conversationID, content, soFar string) Frame {
	return Frame{Type: TypeResponseChunk, ConversationID: conversationID, Content: content, FullResponse: soFar}
}

func ResponseComplete(conversationID, full string) Frame {
	return Frame{Type: TypeResponseComplete, ConversationID: conversationID, FullResponse: full}
}

// ErrorFrame reports a failed response cycle. detail is optional.
func ErrorFrame(msg, detail string) Frame {
	return Frame{Type: TypeError, Message: msg, Error: detail}
}
