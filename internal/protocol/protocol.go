// Package protocol defines the JSON frames exchanged over a room websocket.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Debunkem/CodeCollab/internal/room"
)

var ErrInvalidMessage = errors.New("invalid message")

type MessageType string

const (
	// Server to client
	TypeRoom        MessageType = "room"
	TypeRunStarted  MessageType = "run_started"
	TypeRunFinished MessageType = "run_finished"
	TypeError       MessageType = "error"

	// Both directions: a full replacement of a live field
	TypeCode   MessageType = "code"
	TypeOutput MessageType = "output"

	// Client to server
	TypeRun MessageType = "run"
)

// ServerMessage is a frame sent to a connected client
type ServerMessage struct {
	Type    MessageType `json:"type"`
	Room    *room.Room  `json:"room,omitempty"`
	Value   *string     `json:"value,omitempty"`
	RunID   string      `json:"runId,omitempty"`
	Outcome string      `json:"outcome,omitempty"`
	IsError bool        `json:"isError,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ClientMessage is a frame received from a connected client. Value carries
// the new field content for code and output frames; Code and Language
// optionally override the room's current code and language for run frames.
type ClientMessage struct {
	Type     MessageType   `json:"type"`
	Value    *string       `json:"value,omitempty"`
	Code     *string       `json:"code,omitempty"`
	Language room.Language `json:"language,omitempty"`
}

func RoomMessage(r room.Room) ServerMessage {
	return ServerMessage{Type: TypeRoom, Room: &r}
}

// FieldMessage carries the current value of a live field
func FieldMessage(f room.Field, value string) ServerMessage {
	return ServerMessage{Type: MessageType(f), Value: &value}
}

func RunStarted(runID string) ServerMessage {
	return ServerMessage{Type: TypeRunStarted, RunID: runID}
}

func RunFinished(runID, outcome string, isError bool) ServerMessage {
	return ServerMessage{Type: TypeRunFinished, RunID: runID, Outcome: outcome, IsError: isError}
}

func ErrorMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Error: msg}
}

// Field returns the live field a code or output frame writes to
func (m ClientMessage) Field() (room.Field, bool) {
	switch m.Type {
	case TypeCode:
		return room.FieldCode, true
	case TypeOutput:
		return room.FieldOutput, true
	}
	return "", false
}

// ParseClientMessage decodes and validates a frame from a client
func ParseClientMessage(data []byte) (ClientMessage, error) {
	if len(data) == 0 {
		return ClientMessage{}, fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}

	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch msg.Type {
	case TypeCode, TypeOutput:
		if msg.Value == nil {
			return ClientMessage{}, fmt.Errorf("%w: %s frame needs a value", ErrInvalidMessage, msg.Type)
		}
	case TypeRun:
	default:
		return ClientMessage{}, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	return msg, nil
}
