package protocol

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/energizer-project/liqi/internal/schema"
)

// Parser decodes the frames of one connection. It owns the pending request
// table and the frame counter used to number notifies, so each connection
// needs its own Parser. The resolver may be shared.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	total    uint64
	pending  *PendingTable
	resolver *schema.Resolver
	logger   zerolog.Logger
	now      func() time.Time
}

// NewParser creates a parser that resolves types through resolver.
func NewParser(resolver *schema.Resolver) *Parser {
	return &Parser{
		pending:  NewPendingTable(),
		resolver: resolver,
		logger:   log.With().Str("component", "liqi_parser").Logger(),
		now:      time.Now,
	}
}

// Parse decodes a single frame. On error nothing is returned and the parser
// state is unchanged, except that a Response whose payload fails to decode
// has already consumed its pending entry.
func (p *Parser) Parse(frame []byte) (*Message, error) {
	if len(frame) == 0 {
		return nil, formatErr(0, ErrEmptyFrame, "empty frame")
	}

	msgType, err := ParseMessageType(frame[0])
	if err != nil {
		return nil, err
	}

	var msg *Message
	switch msgType {
	case MsgNotify:
		msg, err = p.parseNotify(frame)
	case MsgRequest:
		msg, err = p.parseRequest(frame)
	case MsgResponse:
		msg, err = p.parseResponse(frame)
	default:
		return nil, formatErr(0, ErrInvalidMessageType, "invalid message type: %d", frame[0])
	}
	if err != nil {
		return nil, err
	}

	p.total++

	p.logger.Debug().
		Str("type", msg.Type.String()).
		Uint64("id", msg.ID).
		Str("method", msg.Method).
		Int("frame_len", len(frame)).
		Msg("frame decoded")

	return msg, nil
}

// Total returns the number of frames decoded successfully.
func (p *Parser) Total() uint64 {
	return p.total
}

// Pending returns the number of requests still waiting for a response.
func (p *Parser) Pending() int {
	return p.pending.Len()
}

// EvictPending drops requests older than maxAge and returns how many were
// removed. The parser never calls this itself.
func (p *Parser) EvictPending(maxAge time.Duration) int {
	return p.pending.EvictOlderThan(p.now().Add(-maxAge))
}

// parseNotify handles [1][name block][payload block]. The type name is the
// third segment of the dotted name (".lq.NotifyXxx").
func (p *Parser) parseNotify(frame []byte) (*Message, error) {
	name, payload, err := splitMethodData(frame[notifyHeaderSize:])
	if err != nil {
		return nil, err
	}

	method, err := decodeName(name)
	if err != nil {
		return nil, err
	}

	segments := strings.Split(method, ".")
	if len(segments) < 3 {
		return nil, formatErr(-1, nil, "notify name %q has no type segment", method)
	}

	md, err := p.resolve(segments[2])
	if err != nil {
		return nil, err
	}

	data, err := p.decode(md, payload)
	if err != nil {
		return nil, err
	}

	if err := p.expandAction(data); err != nil {
		return nil, err
	}

	return &Message{
		ID:     p.total,
		Type:   MsgNotify,
		Method: method,
		Data:   data,
	}, nil
}

// expandAction replaces a base64 "data" field with the decoded action named
// by the sibling "name" field. Notifies without a string "data" field are
// left as they are.
func (p *Parser) expandAction(data map[string]any) error {
	raw, ok := data[actionDataField]
	if !ok {
		return nil
	}
	encoded, ok := raw.(string)
	if !ok {
		return nil
	}

	actionName, ok := data[actionNameField].(string)
	if !ok || actionName == "" {
		return formatErr(-1, nil, "action %q field missing or not a string", actionNameField)
	}

	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &EncodingError{Field: "action data", Err: err}
	}
	Deobfuscate(buf)

	md, err := p.resolve(actionName)
	if err != nil {
		return err
	}

	action, err := p.decode(md, buf)
	if err != nil {
		return err
	}

	p.logger.Trace().
		Str("action", actionName).
		Int("action_len", len(buf)).
		Msg("nested action decoded")

	data[actionDataField] = action
	return nil
}

// parseRequest handles [2][id:2 LE][name block][payload block]. The name is
// ".domain.Service.method"; the response type is recorded against the id
// only after the request payload decoded.
func (p *Parser) parseRequest(frame []byte) (*Message, error) {
	id, err := readRequestID(frame)
	if err != nil {
		return nil, err
	}

	name, payload, err := splitMethodData(frame[rpcHeaderSize:])
	if err != nil {
		return nil, err
	}

	method, err := decodeName(name)
	if err != nil {
		return nil, err
	}

	segments := strings.Split(method, ".")
	if len(segments) < 4 {
		return nil, formatErr(-1, nil, "request name %q is not .domain.service.method", method)
	}

	reqType, respType, err := p.resolver.ResolveMethod(segments[1], segments[2], segments[3])
	if err != nil {
		return nil, wrapLookup(err)
	}

	data, err := p.decode(reqType, payload)
	if err != nil {
		return nil, err
	}

	p.pending.Insert(id, PendingRequest{
		Method:    method,
		Response:  respType,
		CreatedAt: p.now(),
	})

	return &Message{
		ID:     uint64(id),
		Type:   MsgRequest,
		Method: method,
		Data:   data,
	}, nil
}

// parseResponse handles [3][id:2 LE][empty name block][payload block].
func (p *Parser) parseResponse(frame []byte) (*Message, error) {
	id, err := readRequestID(frame)
	if err != nil {
		return nil, err
	}

	name, payload, err := splitMethodData(frame[rpcHeaderSize:])
	if err != nil {
		return nil, err
	}
	if len(name) != 0 {
		return nil, formatErr(-1, nil, "response carries a %d byte name block", len(name))
	}

	entry, err := p.pending.Take(id)
	if err != nil {
		return nil, err
	}

	data, err := p.decode(entry.Response, payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:     uint64(id),
		Type:   MsgResponse,
		Method: entry.Method,
		Data:   data,
	}, nil
}

func (p *Parser) resolve(name string) (protoreflect.MessageDescriptor, error) {
	md, err := p.resolver.Resolve(name)
	if err != nil {
		return nil, wrapLookup(err)
	}
	return md, nil
}

func (p *Parser) decode(md protoreflect.MessageDescriptor, payload []byte) (map[string]any, error) {
	data, err := p.resolver.Decode(md, payload)
	if err != nil {
		return nil, &SchemaError{Type: string(md.FullName()), Err: err}
	}
	return data, nil
}

func readRequestID(frame []byte) (uint16, error) {
	if len(frame) < rpcHeaderSize {
		return 0, formatErr(len(frame), ErrTruncated, "frame too short for request id: %d bytes", len(frame))
	}
	return binary.LittleEndian.Uint16(frame[1:rpcHeaderSize]), nil
}

func decodeName(name []byte) (string, error) {
	if !utf8.Valid(name) {
		return "", &EncodingError{Field: "method name", Err: errors.New("not valid UTF-8")}
	}
	return string(name), nil
}

// wrapLookup lifts schema lookup failures into the protocol error taxonomy.
func wrapLookup(err error) error {
	var nf *schema.NotFoundError
	if errors.As(err, &nf) {
		return &NotFoundError{Kind: nf.Kind, Name: nf.Name, Err: err}
	}
	return err
}
