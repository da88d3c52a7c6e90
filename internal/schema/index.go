package schema

import (
	"encoding/json"
	"fmt"
	"os"
)

// MethodTypes holds the declared request and response type names of an RPC.
// The names are bare (no namespace prefix).
type MethodTypes struct {
	RequestType  string `json:"requestType"`
	ResponseType string `json:"responseType"`
}

// indexNode mirrors one level of the protobufjs JSON layout. Fields, enums
// and options are present in the file but irrelevant here.
type indexNode struct {
	Nested  map[string]*indexNode  `json:"nested"`
	Methods map[string]MethodTypes `json:"methods"`
}

// ServiceIndex maps domain -> service -> method to declared type names.
type ServiceIndex struct {
	root indexNode
}

// ParseServiceIndex decodes the JSON service tree.
func ParseServiceIndex(data []byte) (*ServiceIndex, error) {
	idx := &ServiceIndex{}
	if err := json.Unmarshal(data, &idx.root); err != nil {
		return nil, fmt.Errorf("failed to parse service index: %w", err)
	}
	return idx, nil
}

// LoadServiceIndex reads and parses a service index file.
func LoadServiceIndex(path string) (*ServiceIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service index %s: %w", path, err)
	}
	return ParseServiceIndex(data)
}

// Method looks up the declared types of domain.service.method.
func (s *ServiceIndex) Method(domain, service, method string) (MethodTypes, error) {
	path := fmt.Sprintf(".%s.%s.%s", domain, service, method)

	dom, ok := s.root.Nested[domain]
	if !ok || dom == nil {
		return MethodTypes{}, &NotFoundError{Kind: KindMethod, Name: path}
	}
	svc, ok := dom.Nested[service]
	if !ok || svc == nil {
		return MethodTypes{}, &NotFoundError{Kind: KindMethod, Name: path}
	}
	types, ok := svc.Methods[method]
	if !ok || types.RequestType == "" || types.ResponseType == "" {
		return MethodTypes{}, &NotFoundError{Kind: KindMethod, Name: path}
	}
	return types, nil
}

// NumMethods counts the RPC methods across every domain and service.
func (s *ServiceIndex) NumMethods() int {
	count := 0
	for _, dom := range s.root.Nested {
		if dom == nil {
			continue
		}
		for _, svc := range dom.Nested {
			if svc != nil {
				count += len(svc.Methods)
			}
		}
	}
	return count
}
