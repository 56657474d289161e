// Package hub fans messages out to WebSocket clients.
package hub

import (
	"encoding/json"
	"time"
)

// MessageType is the WebSocket frame type of a message.
type MessageType int

const (
	// JSONMessage is sent as a text frame.
	JSONMessage MessageType = iota
	// BinaryMessage is sent as a binary frame, e.g. a JPEG.
	BinaryMessage
)

// Message is one payload queued for every client.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps binary data.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Event is the envelope of JSON messages: a kind, a time and a payload.
type Event struct {
	Kind string          `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes v as the payload of an event of the given kind.
func NewEvent(kind string, v any) (Event, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: kind, Time: time.Now(), Data: data}, nil
}
