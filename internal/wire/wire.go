// Package wire defines the frame protocol spoken over Learnforge
// WebSocket channels.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType identifies a frame within the closed protocol enum.
type FrameType string

// Inbound frame types pushed by the server.
const (
	TypeConnectionAck    FrameType = "connection_ack"
	TypeHistory          FrameType = "history"
	TypeProcessingStart  FrameType = "processing_start"
	TypeProcessingEnd    FrameType = "processing_end"
	TypeMessage          FrameType = "message"
	TypeHandover         FrameType = "handover"
	TypeCheckpointUpdate FrameType = "checkpoint_update"
	TypeSessionClosed    FrameType = "session_closed"
	TypePong             FrameType = "pong"
	TypeError            FrameType = "error"
)

// Outbound frame types sent by the client.
const (
	TypeUserMessage FrameType = "user_message"
	TypePing        FrameType = "ping"
)

// Known reports whether t belongs to the closed inbound enum.
func (t FrameType) Known() bool {
	switch t {
	case TypeConnectionAck, TypeHistory, TypeProcessingStart, TypeProcessingEnd,
		TypeMessage, TypeHandover, TypeCheckpointUpdate, TypeSessionClosed,
		TypePong, TypeError:
		return true
	default:
		return false
	}
}

// HistoryMessage is one entry of a history batch.
type HistoryMessage struct {
	Origin    string    `json:"origin"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is a parsed inbound frame. Only the fields relevant to Type are
// populated; pointer and slice fields distinguish absent from empty so
// handlers can reject partial frames.
type Envelope struct {
	Type                 FrameType        `json:"type"`
	SessionID            string           `json:"session_id,omitempty"`
	MissionID            string           `json:"mission_id,omitempty"`
	Message              string           `json:"message,omitempty"`
	Messages             []HistoryMessage `json:"messages,omitempty"`
	CompletedCheckpoints []string         `json:"completed_checkpoints,omitempty"`
	Progress             *float64         `json:"progress,omitempty"`
}

// ParseEnvelope decodes a raw frame. Frames with an unknown type still parse
// so the caller can route them to a generic handler instead of dropping them.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame missing type field")
	}
	return env, nil
}

// OutboundFrame is a client-to-server frame.
type OutboundFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message,omitempty"`
}

// UserMessage builds the outbound chat frame.
func UserMessage(text string) OutboundFrame {
	return OutboundFrame{Type: TypeUserMessage, Message: text}
}

// Ping builds the keepalive frame.
func Ping() OutboundFrame {
	return OutboundFrame{Type: TypePing}
}

// Encode marshals an outbound frame for the transport.
func (f OutboundFrame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return data, nil
}
