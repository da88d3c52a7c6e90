package protocol

import (
	"bytes"
	"encoding/binary"
)

// Block tags used by the client: field 1 carries the name, field 2 the
// payload, both length-delimited.
const (
	nameBlockTag    byte = 1<<3 | blockBytes
	payloadBlockTag byte = 2<<3 | blockBytes
)

// FrameBuilder assembles raw frames around payloads that are already
// protobuf-encoded. It is used to produce captures and test fixtures.
type FrameBuilder struct {
	buf bytes.Buffer
}

// NewFrameBuilder creates a new FrameBuilder.
func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{}
}

// Byte writes a single byte.
func (b *FrameBuilder) Byte(v byte) *FrameBuilder {
	b.buf.WriteByte(v)
	return b
}

// Uint16 writes a uint16 in little-endian order.
func (b *FrameBuilder) Uint16(v uint16) *FrameBuilder {
	b.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
	return b
}

// Varint writes v as a base-128 varint.
func (b *FrameBuilder) Varint(v uint64) *FrameBuilder {
	b.buf.Write(binary.AppendUvarint(nil, v))
	return b
}

// Block writes a tagged length-delimited block.
func (b *FrameBuilder) Block(tag byte, data []byte) *FrameBuilder {
	b.buf.WriteByte(tag)
	b.Varint(uint64(len(data)))
	b.buf.Write(data)
	return b
}

// Bytes returns a copy of the assembled frame.
func (b *FrameBuilder) Bytes() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// NotifyFrame builds [1][name][payload].
func NotifyFrame(name string, payload []byte) []byte {
	return NewFrameBuilder().
		Byte(byte(MsgNotify)).
		Block(nameBlockTag, []byte(name)).
		Block(payloadBlockTag, payload).
		Bytes()
}

// RequestFrame builds [2][id][method][payload].
func RequestFrame(id uint16, method string, payload []byte) []byte {
	return NewFrameBuilder().
		Byte(byte(MsgRequest)).
		Uint16(id).
		Block(nameBlockTag, []byte(method)).
		Block(payloadBlockTag, payload).
		Bytes()
}

// ResponseFrame builds [3][id][empty name][payload].
func ResponseFrame(id uint16, payload []byte) []byte {
	return NewFrameBuilder().
		Byte(byte(MsgResponse)).
		Uint16(id).
		Block(nameBlockTag, nil).
		Block(payloadBlockTag, payload).
		Bytes()
}
