package schema

import "fmt"

// Lookup kinds reported by NotFoundError.
const (
	KindMessage = "message type"
	KindMethod  = "method"
)

// NotFoundError is returned when a name is absent from the catalog or the
// service index.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// DecodeError is returned when payload bytes do not satisfy the wire
// constraints of the resolved message type.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
