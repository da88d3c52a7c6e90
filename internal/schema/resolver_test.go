package schema_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/energizer-project/liqi/internal/schema"
	"github.com/energizer-project/liqi/internal/schema/schematest"
)

func TestResolveIsStable(t *testing.T) {
	r := schematest.NewResolver(t)

	first, err := r.Resolve("ReqLogin")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := r.Resolve("ReqLogin")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if first != second {
		t.Errorf("Resolve returned different descriptors for the same name")
	}
	if first.FullName() != "lq.ReqLogin" {
		t.Errorf("FullName mismatch: got %s, want lq.ReqLogin", first.FullName())
	}
}

func TestResolveUnknownType(t *testing.T) {
	r := schematest.NewResolver(t)

	_, err := r.Resolve("ReqNothing")
	var nf *schema.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Name != "lq.ReqNothing" {
		t.Errorf("Name mismatch: got %s, want lq.ReqNothing", nf.Name)
	}
}

func TestResolveMethod(t *testing.T) {
	r := schematest.NewResolver(t)

	tests := []struct {
		domain, service, method string
		req, resp               string
		wantErr                 string
	}{
		{"lq", "Lobby", "login", "lq.ReqLogin", "lq.ResLogin", ""},
		{"lq", "FastTest", "checkNetworkDelay", "lq.ReqHeatBeat", "lq.ResCommon", ""},
		{"lq", "Lobby", "logout", "", "", "method not found: .lq.Lobby.logout"},
		{"lq", "Nope", "login", "", "", "method not found: .lq.Nope.login"},
		{"xx", "Lobby", "login", "", "", "method not found: .xx.Lobby.login"},
		{"lq", "Lobby", "fetchGhost", "", "", "message type not found: lq.ResGhost"},
	}

	for _, tt := range tests {
		req, resp, err := r.ResolveMethod(tt.domain, tt.service, tt.method)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ResolveMethod(%s.%s.%s) error = %v, want %q", tt.domain, tt.service, tt.method, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveMethod(%s.%s.%s) failed: %v", tt.domain, tt.service, tt.method, err)
			continue
		}
		if string(req.FullName()) != tt.req || string(resp.FullName()) != tt.resp {
			t.Errorf("ResolveMethod(%s.%s.%s) = (%s, %s), want (%s, %s)",
				tt.domain, tt.service, tt.method, req.FullName(), resp.FullName(), tt.req, tt.resp)
		}
	}
}

func TestDecodeUsesProtoNamesAndDefaults(t *testing.T) {
	r := schematest.NewResolver(t)
	md, err := r.Resolve("ResLogin")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	data := schematest.Marshal(t, r, "ResLogin", map[string]any{
		"account_id": uint32(1234),
	})

	v, err := r.Decode(md, data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got, ok := v["account_id"].(float64); !ok || got != 1234 {
		t.Errorf("account_id mismatch: got %v", v["account_id"])
	}
	if got, ok := v["nickname"].(string); !ok || got != "" {
		t.Errorf("nickname should be present with its default, got %v", v["nickname"])
	}
	if _, ok := v["accountId"]; ok {
		t.Errorf("camelCase field name leaked into output: %v", v)
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	r := schematest.NewResolver(t)
	md, err := r.Resolve("ReqLogin")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// field 1, length-delimited, declares 5 bytes but carries 1
	_, err = r.Decode(md, []byte{0x0a, 0x05, 'x'})
	var de *schema.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Type != "lq.ReqLogin" {
		t.Errorf("Type mismatch: got %s, want lq.ReqLogin", de.Type)
	}
}

func TestLoadFromFiles(t *testing.T) {
	descPath, indexPath := schematest.WriteFiles(t, t.TempDir())

	r, err := schema.Load(descPath, indexPath, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r.Namespace() != schema.DefaultNamespace {
		t.Errorf("Namespace mismatch: got %s, want %s", r.Namespace(), schema.DefaultNamespace)
	}
	if _, err := r.Resolve("ActionDiscardTile"); err != nil {
		t.Errorf("Resolve after Load failed: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := schema.Load("does/not/exist.desc", "does/not/exist.json", ""); err == nil {
		t.Fatal("expected error for missing descriptor set")
	}
}

func TestServiceIndexCounts(t *testing.T) {
	idx, err := schema.ParseServiceIndex(schematest.ServiceIndexJSON())
	if err != nil {
		t.Fatalf("ParseServiceIndex failed: %v", err)
	}
	if got := idx.NumMethods(); got != 4 {
		t.Errorf("NumMethods mismatch: got %d, want 4", got)
	}

	catalog, err := schema.NewCatalog(schematest.FileDescriptorSet())
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	if got := catalog.NumMessages(); got != 10 {
		t.Errorf("NumMessages mismatch: got %d, want 10", got)
	}
}
