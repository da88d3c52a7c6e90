package protocol

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by FormatError. Match them with errors.Is.
var (
	ErrEmptyFrame         = errors.New("empty frame")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrTruncated          = errors.New("truncated data")
	ErrInvalidBlockType   = errors.New("invalid block type")
	ErrBlockCount         = errors.New("invalid number of blocks")
	ErrVarintOverflow     = errors.New("varint overflows 64 bits")
)

// FormatError reports malformed frame structure.
type FormatError struct {
	Offset int
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("malformed frame at offset %d: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Lookup kinds reported by NotFoundError.
const (
	KindMessage = "message type"
	KindMethod  = "method"
	KindRequest = "request"
)

// NotFoundError reports an unknown schema name, an unknown service method
// or a response without a matching request.
type NotFoundError struct {
	Kind string
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Kind == KindRequest {
		return fmt.Sprintf("no corresponding request for id %s", e.Name)
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// EncodingError reports a name that is not UTF-8 or a nested payload that is
// not valid base64.
type EncodingError struct {
	Field string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("invalid encoding in %s: %v", e.Field, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// SchemaError reports payload bytes that do not decode as the resolved type.
type SchemaError struct {
	Type string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("payload does not match %s: %v", e.Type, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func formatErr(offset int, cause error, format string, args ...any) *FormatError {
	return &FormatError{Offset: offset, Reason: fmt.Sprintf(format, args...), Err: cause}
}
