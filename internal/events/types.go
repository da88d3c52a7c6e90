// Package events carries decoder activity between the capture sessions and
// the sinks that consume it (archive, telemetry, console).
package events

import (
	"time"

	"github.com/energizer-project/liqi/internal/protocol"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	EventMessageDecoded EventType = "message_decoded"
	EventDecodeFailed   EventType = "decode_failed"
	EventSessionOpened  EventType = "session_opened"
	EventSessionClosed  EventType = "session_closed"
	EventShutdown       EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// MessageDecodedPayload is emitted for every frame a session decodes.
type MessageDecodedPayload struct {
	Session    string
	Message    protocol.Message
	FrameSize  int
	ReceivedAt time.Time
}

// DecodeFailedPayload is emitted when a frame is rejected. Frame holds the
// raw bytes so the failure can be archived and replayed.
type DecodeFailedPayload struct {
	Session    string
	Frame      []byte
	Err        error
	ReceivedAt time.Time
}

// SessionPayload accompanies session_opened and session_closed.
type SessionPayload struct {
	Session    string
	RemoteAddr string
	Decoded    uint64
	Failed     uint64
	Pending    int
	At         time.Time
}
