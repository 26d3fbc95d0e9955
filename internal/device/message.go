package device

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNoDevice is reported through the failure callback when no device is
	// connected to the channel.
	ErrNoDevice = errors.New("no device connected")
	// ErrTimeout is reported when the device does not answer in time.
	ErrTimeout = errors.New("timeout")
	// ErrDisconnected is reported for messages in flight when the device goes away.
	ErrDisconnected = errors.New("device disconnected")
)

// Message is one key/value payload pushed to the device.
type Message struct {
	ID      string            `json:"id"`
	FlowID  string            `json:"flow_id,omitempty"`
	Payload map[string]string `json:"payload"`
}

// NewMessage returns a message with a fresh transaction id.
func NewMessage(flowID string, payload map[string]string) Message {
	return Message{
		ID:      uuid.New().String(),
		FlowID:  flowID,
		Payload: payload,
	}
}

// PayloadJSON returns the payload encoded as a JSON object.
func (m Message) PayloadJSON() string {
	b, _ := json.Marshal(m.Payload)
	return string(b)
}

// Channel delivers messages to the device. Send never blocks on the device:
// exactly one of onAck or onFail is called later, possibly on another
// goroutine, with no ordering guarantee relative to other events.
type Channel interface {
	Send(msg Message, onAck func(), onFail func(error))
}

// Envelope types exchanged over the websocket.
const (
	TypeAppMessage = "appmessage"
	TypeAck        = "ack"
	TypeNack       = "nack"
)

// Envelope is the frame exchanged with the device over the websocket.
type Envelope struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload,omitempty"`
	Error   string            `json:"error,omitempty"`
}
