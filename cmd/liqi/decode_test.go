package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/energizer-project/liqi/internal/network"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/schema/schematest"
)

func TestJSONLinesWritesMessagesAndFailures(t *testing.T) {
	r := schematest.NewResolver(t)
	login := schematest.Marshal(t, r, "ReqLogin", map[string]any{"account": "alice"})
	res := schematest.Marshal(t, r, "ResLogin", map[string]any{"account_id": uint32(42), "nickname": "Alice"})

	capture := strings.Join([]string{
		"# login exchange",
		hex.EncodeToString(protocol.RequestFrame(7, ".lq.Lobby.login", login)),
		"",
		hex.EncodeToString([]byte{0x09}),
		hex.EncodeToString(protocol.ResponseFrame(7, res)),
	}, "\n")

	var out, errOut bytes.Buffer
	dec := network.NewDecoder("test", r, nil)
	result, err := network.Replay(context.Background(), strings.NewReader(capture), network.FormatHex, 1<<16, dec,
		jsonLines(&out, &errOut))
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if result != (network.ReplayResult{Frames: 3, Decoded: 2, Failed: 1}) {
		t.Errorf("result = %+v", result)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d: %q", len(lines), out.String())
	}

	var resp struct {
		ID     uint64         `json:"id"`
		Type   string         `json:"type"`
		Method string         `json:"method"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &resp); err != nil {
		t.Fatalf("invalid JSON line %q: %v", lines[1], err)
	}
	if resp.ID != 7 || resp.Type != "response" || resp.Method != ".lq.Lobby.login" {
		t.Errorf("unexpected response line: %+v", resp)
	}
	if resp.Data["nickname"] != "Alice" {
		t.Errorf("nickname = %v", resp.Data["nickname"])
	}

	if !strings.HasPrefix(errOut.String(), "frame 1: ") {
		t.Errorf("failure line = %q", errOut.String())
	}
}
