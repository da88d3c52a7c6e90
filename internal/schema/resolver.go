package schema

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// DefaultNamespace is the protobuf package every liqi type lives in.
const DefaultNamespace = "lq"

// Resolver turns liqi names into message descriptors. It is the only place
// where names are looked up as strings; callers work with descriptors.
type Resolver struct {
	catalog   *Catalog
	index     *ServiceIndex
	namespace string

	unmarshal proto.UnmarshalOptions
	marshal   protojson.MarshalOptions
}

// NewResolver combines a catalog and a service index. An empty namespace
// selects DefaultNamespace.
func NewResolver(catalog *Catalog, index *ServiceIndex, namespace string) *Resolver {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Resolver{
		catalog:   catalog,
		index:     index,
		namespace: namespace,
		unmarshal: proto.UnmarshalOptions{Resolver: catalog.types},
		marshal: protojson.MarshalOptions{
			UseProtoNames:   true,
			EmitUnpopulated: true,
			Resolver:        catalog.types,
		},
	}
}

// Load reads the descriptor set and service index from disk.
func Load(descriptorPath, indexPath, namespace string) (*Resolver, error) {
	catalog, err := LoadCatalog(descriptorPath)
	if err != nil {
		return nil, err
	}
	index, err := LoadServiceIndex(indexPath)
	if err != nil {
		return nil, err
	}

	r := NewResolver(catalog, index, namespace)
	log.Info().
		Str("descriptors", descriptorPath).
		Str("services", indexPath).
		Str("namespace", r.namespace).
		Int("messages", catalog.NumMessages()).
		Int("methods", index.NumMethods()).
		Msg("schema catalog loaded")

	return r, nil
}

// Namespace returns the package prefix applied to bare names.
func (r *Resolver) Namespace() string {
	return r.namespace
}

// Catalog returns the message catalog.
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Index returns the service index.
func (r *Resolver) Index() *ServiceIndex {
	return r.index
}

// FullName qualifies a bare type name.
func (r *Resolver) FullName(name string) string {
	return r.namespace + "." + name
}

// Resolve returns the descriptor of a bare type name.
func (r *Resolver) Resolve(name string) (protoreflect.MessageDescriptor, error) {
	return r.catalog.Message(r.FullName(name))
}

// ResolveMethod returns the request and response descriptors declared for
// domain.service.method in the service index.
func (r *Resolver) ResolveMethod(domain, service, method string) (req, resp protoreflect.MessageDescriptor, err error) {
	types, err := r.index.Method(domain, service, method)
	if err != nil {
		return nil, nil, err
	}
	if req, err = r.Resolve(types.RequestType); err != nil {
		return nil, nil, err
	}
	if resp, err = r.Resolve(types.ResponseType); err != nil {
		return nil, nil, err
	}
	return req, resp, nil
}

// Decode parses data as md and returns the message as a JSON-like tree.
// Field names are the declared proto names and unset fields carry their
// default values.
func (r *Resolver) Decode(md protoreflect.MessageDescriptor, data []byte) (map[string]any, error) {
	msg := dynamicpb.NewMessage(md)
	if err := r.unmarshal.Unmarshal(data, msg); err != nil {
		return nil, &DecodeError{Type: string(md.FullName()), Err: err}
	}

	raw, err := r.marshal.Marshal(msg)
	if err != nil {
		return nil, &DecodeError{Type: string(md.FullName()), Err: err}
	}

	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &DecodeError{Type: string(md.FullName()), Err: fmt.Errorf("json round trip: %w", err)}
	}
	return out, nil
}
