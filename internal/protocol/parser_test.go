package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/energizer-project/liqi/internal/schema"
	"github.com/energizer-project/liqi/internal/schema/schematest"
)

func newTestParser(t *testing.T) (*Parser, *schema.Resolver) {
	t.Helper()
	r := schematest.NewResolver(t)
	return NewParser(r), r
}

func TestParseNotify(t *testing.T) {
	p, r := newTestParser(t)

	payload := schematest.Marshal(t, r, "NotifyPlayerLoadGameReady", map[string]any{
		"ready_id_list": []uint32{101, 202},
	})
	msg, err := p.Parse(NotifyFrame(".lq.NotifyPlayerLoadGameReady", payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if msg.Type != MsgNotify {
		t.Errorf("Type mismatch: got %s, want notify", msg.Type)
	}
	if msg.ID != 0 {
		t.Errorf("first notify should get id 0, got %d", msg.ID)
	}
	if msg.Method != ".lq.NotifyPlayerLoadGameReady" {
		t.Errorf("Method mismatch: got %s", msg.Method)
	}
	list, ok := msg.Data["ready_id_list"].([]any)
	if !ok || len(list) != 2 || list[0] != float64(101) || list[1] != float64(202) {
		t.Errorf("ready_id_list mismatch: got %v", msg.Data["ready_id_list"])
	}
}

func TestParseNotifyExpandsAction(t *testing.T) {
	p, r := newTestParser(t)

	action := schematest.Marshal(t, r, "ActionDiscardTile", map[string]any{
		"seat":  uint32(2),
		"tile":  "5m",
		"moqie": true,
	})
	Obfuscate(action)

	payload := schematest.Marshal(t, r, "ActionPrototype", map[string]any{
		"step": uint32(7),
		"name": "ActionDiscardTile",
		"data": action,
	})
	msg, err := p.Parse(NotifyFrame(".lq.ActionPrototype", payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if msg.Data["name"] != "ActionDiscardTile" {
		t.Errorf("name mismatch: got %v", msg.Data["name"])
	}
	if msg.Data["step"] != float64(7) {
		t.Errorf("step mismatch: got %v", msg.Data["step"])
	}

	nested, ok := msg.Data["data"].(map[string]any)
	if !ok {
		t.Fatalf("data should be a decoded object, got %T (%v)", msg.Data["data"], msg.Data["data"])
	}
	if nested["seat"] != float64(2) || nested["tile"] != "5m" || nested["moqie"] != true {
		t.Errorf("nested action mismatch: got %v", nested)
	}
	if nested["is_liqi"] != false {
		t.Errorf("unset fields should carry defaults, got is_liqi=%v", nested["is_liqi"])
	}
}

func TestParseNotifyMessageDataFieldUntouched(t *testing.T) {
	p, r := newTestParser(t)

	payload := schematest.Marshal(t, r, "NotifyAccountUpdate", map[string]any{
		"data": map[string]any{"code": uint32(5)},
	})
	msg, err := p.Parse(NotifyFrame(".lq.NotifyAccountUpdate", payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	data, ok := msg.Data["data"].(map[string]any)
	if !ok || data["code"] != float64(5) {
		t.Errorf("message-typed data field should pass through, got %v", msg.Data["data"])
	}
}

func TestParseNotifyUnknownAction(t *testing.T) {
	p, r := newTestParser(t)

	payload := schematest.Marshal(t, r, "ActionPrototype", map[string]any{
		"name": "ActionNobodyKnows",
		"data": []byte{0x01},
	})
	_, err := p.Parse(NotifyFrame(".lq.ActionPrototype", payload))

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Name != "lq.ActionNobodyKnows" {
		t.Errorf("Name mismatch: got %s", nf.Name)
	}
	if p.Total() != 0 {
		t.Errorf("failed frame should not advance the counter")
	}
}

func TestParseRequestResponse(t *testing.T) {
	p, r := newTestParser(t)

	req := RequestFrame(0x1234, ".lq.Lobby.login", schematest.Marshal(t, r, "ReqLogin", map[string]any{
		"account": "tenhou@example.com",
		"type":    uint32(1),
	}))
	if !bytes.HasPrefix(req, []byte{2, 0x34, 0x12}) {
		t.Fatalf("request header mismatch: %x", req[:3])
	}

	msg, err := p.Parse(req)
	if err != nil {
		t.Fatalf("Parse request failed: %v", err)
	}
	if msg.Type != MsgRequest || msg.ID != 0x1234 || msg.Method != ".lq.Lobby.login" {
		t.Errorf("request mismatch: %+v", msg)
	}
	if msg.Data["account"] != "tenhou@example.com" {
		t.Errorf("account mismatch: got %v", msg.Data["account"])
	}
	if p.Pending() != 1 {
		t.Errorf("Pending mismatch: got %d, want 1", p.Pending())
	}

	resp := ResponseFrame(0x1234, schematest.Marshal(t, r, "ResLogin", map[string]any{
		"account_id": uint32(77),
		"nickname":   "riichi",
	}))
	msg, err = p.Parse(resp)
	if err != nil {
		t.Fatalf("Parse response failed: %v", err)
	}
	if msg.Type != MsgResponse || msg.ID != 0x1234 {
		t.Errorf("response header mismatch: %+v", msg)
	}
	if msg.Method != ".lq.Lobby.login" {
		t.Errorf("response should inherit the request method, got %s", msg.Method)
	}
	if msg.Data["nickname"] != "riichi" || msg.Data["account_id"] != float64(77) {
		t.Errorf("response decoded with the wrong schema: %v", msg.Data)
	}
	if p.Pending() != 0 {
		t.Errorf("Pending mismatch: got %d, want 0", p.Pending())
	}

	_, err = p.Parse(resp)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.Kind != KindRequest {
		t.Errorf("replayed response should fail with a missing request, got %v", err)
	}
}

func TestParseRequestOverwritesPending(t *testing.T) {
	p, r := newTestParser(t)

	login := schematest.Marshal(t, r, "ReqLogin", map[string]any{"account": "a"})
	beat := schematest.Marshal(t, r, "ReqHeatBeat", map[string]any{"no_operation_counter": uint32(3)})

	if _, err := p.Parse(RequestFrame(9, ".lq.Lobby.login", login)); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := p.Parse(RequestFrame(9, ".lq.Lobby.heatbeat", beat)); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	resp := schematest.Marshal(t, r, "ResCommon", map[string]any{
		"error": map[string]any{"code": uint32(1002)},
	})
	msg, err := p.Parse(ResponseFrame(9, resp))
	if err != nil {
		t.Fatalf("Parse response failed: %v", err)
	}
	if msg.Method != ".lq.Lobby.heatbeat" {
		t.Errorf("last request should win, got %s", msg.Method)
	}
	errObj, ok := msg.Data["error"].(map[string]any)
	if !ok || errObj["code"] != float64(1002) {
		t.Errorf("error field mismatch: %v", msg.Data["error"])
	}
}

func TestParseFailedRequestLeavesTableClean(t *testing.T) {
	p, _ := newTestParser(t)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"malformed payload", RequestFrame(1, ".lq.Lobby.login", []byte{0x0a, 0x05, 'x'})},
		{"unknown method", RequestFrame(2, ".lq.Lobby.logout", nil)},
		{"unknown response type", RequestFrame(3, ".lq.Lobby.fetchGhost", nil)},
		{"short name", RequestFrame(4, ".lq.Lobby", nil)},
	}

	for _, tt := range tests {
		if _, err := p.Parse(tt.frame); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
	if p.Pending() != 0 {
		t.Errorf("failed requests left %d pending entries", p.Pending())
	}
}

func TestParseErrorTaxonomy(t *testing.T) {
	p, r := newTestParser(t)

	tests := []struct {
		name  string
		frame []byte
		check func(error) bool
	}{
		{"empty frame", nil, func(err error) bool { return errors.Is(err, ErrEmptyFrame) }},
		{"type 0", []byte{0}, func(err error) bool { return errors.Is(err, ErrInvalidMessageType) }},
		{"type 4", []byte{4, 0, 0}, func(err error) bool { return errors.Is(err, ErrInvalidMessageType) }},
		{"request too short", []byte{2, 0x01}, func(err error) bool { return errors.Is(err, ErrTruncated) }},
		{"one block", []byte{1, 0x0a, 0x01, 'a'}, func(err error) bool { return errors.Is(err, ErrBlockCount) }},
		{"bad utf8 name", NotifyFrame(string([]byte{0xff, 0xfe}), nil), func(err error) bool {
			var ee *EncodingError
			return errors.As(err, &ee)
		}},
		{"action data not base64", NotifyFrame(".lq.NotifyRawAction", schematest.Marshal(t, r, "NotifyRawAction",
			map[string]any{"name": "ActionDiscardTile", "data": "%%not base64%%"})), func(err error) bool {
			var ee *EncodingError
			return errors.As(err, &ee)
		}},
		{"action data without name", NotifyFrame(".lq.NotifyRawAction", schematest.Marshal(t, r, "NotifyRawAction",
			map[string]any{"data": "AAAA"})), func(err error) bool {
			var fe *FormatError
			return errors.As(err, &fe) && strings.Contains(err.Error(), "name")
		}},
		{"unknown notify", NotifyFrame(".lq.NotifyNothing", nil), func(err error) bool {
			var nf *NotFoundError
			return errors.As(err, &nf) && nf.Kind == KindMessage
		}},
		{"notify without type segment", NotifyFrame("lq", nil), func(err error) bool {
			var fe *FormatError
			return errors.As(err, &fe)
		}},
		{"bad notify payload", NotifyFrame(".lq.NotifyPlayerLoadGameReady", []byte{0x0a, 0x09}), func(err error) bool {
			var se *SchemaError
			return errors.As(err, &se) && se.Type == "lq.NotifyPlayerLoadGameReady"
		}},
		{"response with name", NewFrameBuilder().Byte(3).Uint16(1).
			Block(nameBlockTag, []byte(".lq.Lobby.login")).
			Block(payloadBlockTag, nil).Bytes(), func(err error) bool {
			var fe *FormatError
			return errors.As(err, &fe) && strings.Contains(err.Error(), "name block")
		}},
		{"unmatched response", ResponseFrame(42, nil), func(err error) bool {
			var nf *NotFoundError
			return errors.As(err, &nf) && strings.Contains(err.Error(), "id 42")
		}},
	}

	for _, tt := range tests {
		_, err := p.Parse(tt.frame)
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
			continue
		}
		if !tt.check(err) {
			t.Errorf("%s: unexpected error %T: %v", tt.name, err, err)
		}
	}

	// The parser is still usable after a run of bad frames.
	payload := schematest.Marshal(t, r, "NotifyPlayerLoadGameReady", nil)
	if _, err := p.Parse(NotifyFrame(".lq.NotifyPlayerLoadGameReady", payload)); err != nil {
		t.Errorf("parser unusable after errors: %v", err)
	}
}

func TestParseNotifyIDsFollowFrameCount(t *testing.T) {
	p, r := newTestParser(t)
	notify := NotifyFrame(".lq.NotifyPlayerLoadGameReady", schematest.Marshal(t, r, "NotifyPlayerLoadGameReady", nil))

	if _, err := p.Parse(RequestFrame(5, ".lq.Lobby.heatbeat", nil)); err != nil {
		t.Fatalf("Parse request failed: %v", err)
	}
	if _, err := p.Parse(ResponseFrame(5, nil)); err != nil {
		t.Fatalf("Parse response failed: %v", err)
	}

	msg, err := p.Parse(notify)
	if err != nil {
		t.Fatalf("Parse notify failed: %v", err)
	}
	if msg.ID != 2 {
		t.Errorf("notify id should be the frame ordinal 2, got %d", msg.ID)
	}
	msg, err = p.Parse(notify)
	if err != nil {
		t.Fatalf("Parse notify failed: %v", err)
	}
	if msg.ID != 3 {
		t.Errorf("notify id should be 3, got %d", msg.ID)
	}
	if p.Total() != 4 {
		t.Errorf("Total mismatch: got %d, want 4", p.Total())
	}
}

func TestParserEvictPending(t *testing.T) {
	p, _ := newTestParser(t)
	now := time.Unix(5000, 0)
	p.now = func() time.Time { return now }

	if _, err := p.Parse(RequestFrame(1, ".lq.Lobby.heatbeat", nil)); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if n := p.EvictPending(5 * time.Minute); n != 0 {
		t.Errorf("nothing should be evicted yet, removed %d", n)
	}
	now = now.Add(10 * time.Minute)
	if n := p.EvictPending(5 * time.Minute); n != 1 {
		t.Errorf("stale request should be evicted, removed %d", n)
	}
	if _, err := p.Parse(ResponseFrame(1, nil)); err == nil {
		t.Errorf("response to an evicted request should fail")
	}
}

func TestParsersAreIndependent(t *testing.T) {
	r := schematest.NewResolver(t)
	a := NewParser(r)
	b := NewParser(r)

	if _, err := a.Parse(RequestFrame(11, ".lq.Lobby.heatbeat", nil)); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := b.Parse(ResponseFrame(11, nil)); err == nil {
		t.Errorf("a response must not match a request seen by another parser")
	}
	if _, err := a.Parse(ResponseFrame(11, nil)); err != nil {
		t.Errorf("owning parser should match its request: %v", err)
	}
}
