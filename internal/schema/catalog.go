// Package schema resolves liqi message names to protobuf descriptors and
// decodes payloads into JSON-like value trees.
//
// The catalog is a compiled FileDescriptorSet and the service index is the
// protobufjs-style JSON tree shipped with the game client. Both are read-only
// once loaded and may be shared by any number of parsers.
package schema

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Catalog is an immutable index of message descriptors keyed by full name.
type Catalog struct {
	files *protoregistry.Files
	types *dynamicpb.Types
}

// NewCatalog builds a catalog from a descriptor set. Every dependency of
// every file must be present in the set.
func NewCatalog(set *descriptorpb.FileDescriptorSet) (*Catalog, error) {
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, fmt.Errorf("failed to build descriptor registry: %w", err)
	}
	return NewCatalogFromFiles(files), nil
}

// NewCatalogFromFiles wraps an existing registry.
func NewCatalogFromFiles(files *protoregistry.Files) *Catalog {
	return &Catalog{
		files: files,
		types: dynamicpb.NewTypes(files),
	}
}

// ParseCatalog decodes a binary FileDescriptorSet (protoc --descriptor_set_out).
func ParseCatalog(data []byte) (*Catalog, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse descriptor set: %w", err)
	}
	return NewCatalog(&set)
}

// LoadCatalog reads and parses a descriptor set file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor set %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Message returns the descriptor registered under a fully-qualified name.
func (c *Catalog) Message(fullName string) (protoreflect.MessageDescriptor, error) {
	desc, err := c.files.FindDescriptorByName(protoreflect.FullName(fullName))
	if err != nil {
		return nil, &NotFoundError{Kind: KindMessage, Name: fullName}
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, &NotFoundError{Kind: KindMessage, Name: fullName}
	}
	return md, nil
}

// NumMessages counts the top-level and nested messages in the catalog.
func (c *Catalog) NumMessages() int {
	count := 0
	c.files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		count += countMessages(fd.Messages())
		return true
	})
	return count
}

func countMessages(msgs protoreflect.MessageDescriptors) int {
	n := msgs.Len()
	for i := 0; i < msgs.Len(); i++ {
		n += countMessages(msgs.Get(i).Messages())
	}
	return n
}
