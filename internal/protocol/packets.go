// Package protocol decodes liqi frames, the binary application protocol
// spoken between the game client and its lobby and game servers.
//
// A frame starts with a one-byte message type. Requests and responses carry
// a little-endian 16-bit id next; notifies carry none. The rest of the frame
// is a sub-frame of two length-delimited blocks: the dotted method or type
// name, and the protobuf payload. Responses leave the name block empty and
// are typed by the request that shares their id.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType is the leading discriminator byte of a frame.
type MessageType byte

const (
	MsgNotify   MessageType = 1 // Server push, no id
	MsgRequest  MessageType = 2 // Client call, carries id and method
	MsgResponse MessageType = 3 // Reply, carries id only
)

// Frame header sizes.
const (
	notifyHeaderSize = 1
	rpcHeaderSize    = 3 // type byte + uint16 id
)

// actionDataField and actionNameField are the notify fields that hold a
// nested obfuscated action and its type name.
const (
	actionDataField = "data"
	actionNameField = "name"
)

var messageTypeStrings = map[MessageType]string{
	MsgNotify:   "notify",
	MsgRequest:  "request",
	MsgResponse: "response",
}

// ParseMessageType validates a discriminator byte.
func ParseMessageType(b byte) (MessageType, error) {
	t := MessageType(b)
	if _, ok := messageTypeStrings[t]; !ok {
		return 0, formatErr(0, ErrInvalidMessageType, "invalid message type: %d", b)
	}
	return t, nil
}

// String returns the lower-case name of the message type.
func (t MessageType) String() string {
	if s, ok := messageTypeStrings[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// MarshalJSON serializes MessageType as a JSON string (e.g. "notify").
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// Message is one decoded frame.
type Message struct {
	// ID is the request id for requests and responses, and the parser's
	// frame ordinal for notifies.
	ID     uint64         `json:"id"`
	Type   MessageType    `json:"type"`
	Method string         `json:"method"`
	Data   map[string]any `json:"data"`
}
