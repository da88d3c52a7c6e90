// Package schematest provides a small liqi catalog for tests: a handful of
// message descriptors in package lq, the matching service index JSON and a
// helper to marshal payloads by field name.
package schematest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/energizer-project/liqi/internal/schema"
)

const (
	tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE

	optional = descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
	repeated = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
)

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type, label descriptorpb.FieldDescriptorProto_Label, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Type:   typ.Enum(),
		Label:  label.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// FileDescriptorSet returns the fixture catalog.
func FileDescriptorSet() *descriptorpb.FileDescriptorSet {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("liqi.proto"),
		Package: proto.String("lq"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			message("Error",
				field("code", 1, tUint32, optional, ""),
				field("string_params", 2, tString, repeated, ""),
			),
			message("ActionPrototype",
				field("step", 1, tUint32, optional, ""),
				field("name", 2, tString, optional, ""),
				field("data", 3, tBytes, optional, ""),
			),
			message("ActionDiscardTile",
				field("seat", 1, tUint32, optional, ""),
				field("tile", 2, tString, optional, ""),
				field("is_liqi", 3, tBool, optional, ""),
				field("moqie", 5, tBool, optional, ""),
			),
			message("NotifyPlayerLoadGameReady",
				field("ready_id_list", 1, tUint32, repeated, ""),
			),
			message("NotifyAccountUpdate",
				field("update", 1, tMessage, optional, ".lq.Error"),
				field("data", 2, tMessage, optional, ".lq.Error"),
			),
			message("ReqLogin",
				field("account", 1, tString, optional, ""),
				field("type", 2, tUint32, optional, ""),
				field("client_version_string", 3, tString, optional, ""),
			),
			message("ResLogin",
				field("error", 1, tMessage, optional, ".lq.Error"),
				field("account_id", 2, tUint32, optional, ""),
				field("nickname", 3, tString, optional, ""),
			),
			message("ReqHeatBeat",
				field("no_operation_counter", 1, tUint32, optional, ""),
			),
			message("ResCommon",
				field("error", 1, tMessage, optional, ".lq.Error"),
			),
			message("NotifyRawAction",
				field("name", 1, tString, optional, ""),
				field("data", 2, tString, optional, ""),
			),
		},
	}
	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{file}}
}

// ServiceIndexJSON returns the fixture service tree in protobufjs layout.
func ServiceIndexJSON() []byte {
	return []byte(`{
  "nested": {
    "lq": {
      "options": {"go_package": "lq"},
      "nested": {
        "Lobby": {
          "methods": {
            "login": {"requestType": "ReqLogin", "responseType": "ResLogin"},
            "heatbeat": {"requestType": "ReqHeatBeat", "responseType": "ResCommon"},
            "fetchGhost": {"requestType": "ReqLogin", "responseType": "ResGhost"}
          }
        },
        "FastTest": {
          "methods": {
            "checkNetworkDelay": {"requestType": "ReqHeatBeat", "responseType": "ResCommon"}
          }
        },
        "ReqLogin": {
          "fields": {"account": {"type": "string", "id": 1}}
        }
      }
    }
  }
}`)
}

// NewResolver builds a resolver over the fixture catalog.
func NewResolver(t testing.TB) *schema.Resolver {
	t.Helper()
	catalog, err := schema.NewCatalog(FileDescriptorSet())
	if err != nil {
		t.Fatalf("failed to build fixture catalog: %v", err)
	}
	index, err := schema.ParseServiceIndex(ServiceIndexJSON())
	if err != nil {
		t.Fatalf("failed to parse fixture service index: %v", err)
	}
	return schema.NewResolver(catalog, index, schema.DefaultNamespace)
}

// WriteFiles stores the fixture catalog and index in dir and returns their
// paths.
func WriteFiles(t testing.TB, dir string) (descriptorPath, indexPath string) {
	t.Helper()
	data, err := proto.Marshal(FileDescriptorSet())
	if err != nil {
		t.Fatalf("failed to marshal descriptor set: %v", err)
	}
	descriptorPath = filepath.Join(dir, "liqi.desc")
	indexPath = filepath.Join(dir, "liqi.json")
	if err := os.WriteFile(descriptorPath, data, 0644); err != nil {
		t.Fatalf("failed to write descriptor set: %v", err)
	}
	if err := os.WriteFile(indexPath, ServiceIndexJSON(), 0644); err != nil {
		t.Fatalf("failed to write service index: %v", err)
	}
	return descriptorPath, indexPath
}

// Marshal encodes fields as the bare type name. Values must use the Go type
// protoreflect.ValueOf expects for the field (uint32, string, bool, []byte),
// []uint32 for repeated integers, []string for repeated strings and
// map[string]any for nested messages.
func Marshal(t testing.TB, r *schema.Resolver, name string, fields map[string]any) []byte {
	t.Helper()
	md, err := r.Resolve(name)
	if err != nil {
		t.Fatalf("fixture type %s: %v", name, err)
	}
	msg := dynamicpb.NewMessage(md)
	if err := setFields(msg, fields); err != nil {
		t.Fatalf("fixture %s: %v", name, err)
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal %s: %v", name, err)
	}
	return data
}

func setFields(msg *dynamicpb.Message, fields map[string]any) error {
	md := msg.Descriptor()
	for name, v := range fields {
		fd := md.Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			return fmt.Errorf("unknown field %s.%s", md.FullName(), name)
		}
		switch val := v.(type) {
		case map[string]any:
			sub := dynamicpb.NewMessage(fd.Message())
			if err := setFields(sub, val); err != nil {
				return err
			}
			msg.Set(fd, protoreflect.ValueOfMessage(sub))
		case []uint32:
			list := msg.Mutable(fd).List()
			for _, x := range val {
				list.Append(protoreflect.ValueOfUint32(x))
			}
		case []string:
			list := msg.Mutable(fd).List()
			for _, x := range val {
				list.Append(protoreflect.ValueOfString(x))
			}
		default:
			msg.Set(fd, protoreflect.ValueOf(v))
		}
	}
	return nil
}
