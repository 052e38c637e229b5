// internal/model/message.go
package model

import (
	"time"

	"github.com/google/uuid"

	"instrument-link/internal/utils"
)

// MessageDirection indicates which way an envelope travelled
type MessageDirection string

const (
	DirectionSent     MessageDirection = "sent"
	DirectionReceived MessageDirection = "received"
)

// MessageEnvelope represents one application-level message crossing the
// link. The payload is carried as an uppercase hex string so envelopes
// stay transport-agnostic in logs and events. Envelopes are immutable
// once constructed; Decoded is populated by an external PayloadDecoder
// on the consumer side.
type MessageEnvelope struct {
	ID         uuid.UUID        `json:"id"`
	PayloadHex string           `json:"payload_hex"`
	Direction  MessageDirection `json:"direction"`
	Timestamp  time.Time        `json:"timestamp"`
	Decoded    interface{}      `json:"decoded,omitempty"`
}

// NewEnvelope creates an envelope for raw payload bytes
func NewEnvelope(payload []byte, direction MessageDirection) *MessageEnvelope {
	return &MessageEnvelope{
		ID:         uuid.New(),
		PayloadHex: utils.BytesToHex(payload),
		Direction:  direction,
		Timestamp:  time.Now(),
	}
}

// Payload decodes the hex representation back into raw bytes
func (e *MessageEnvelope) Payload() ([]byte, error) {
	return utils.HexToBytes(e.PayloadHex)
}

// PayloadDecoder decodes a message body into domain content. It is an
// external collaborator; the link core never inspects payloads itself.
type PayloadDecoder interface {
	Decode(data []byte) (interface{}, error)
}
