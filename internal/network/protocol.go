package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxMessageSize bounds a single inbound frame. Registration frames
// carry a base64 photo, so this is larger than a plain game message needs.
const DefaultMaxMessageSize = 2 << 20

var errMissingType = errors.New("message has no type")

// Message is one inbound frame. Type selects the handler and Payload keeps the
// whole frame so the handler can decode the fields it expects.
type Message struct {
	Type    string
	Payload json.RawMessage
}

// DecodeMessage extracts the type of a raw JSON frame.
func DecodeMessage(data []byte) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	head.Type = strings.TrimSpace(head.Type)
	if head.Type == "" {
		return Message{}, errMissingType
	}
	return Message{Type: head.Type, Payload: json.RawMessage(data)}, nil
}

// Decode unmarshals the frame into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
