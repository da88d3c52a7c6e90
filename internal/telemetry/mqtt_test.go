package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/energizer-project/liqi/internal/config"
	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/util"
)

func TestMessageTopic(t *testing.T) {
	tests := []struct {
		prefix string
		msg    protocol.Message
		want   string
	}{
		{"liqi", protocol.Message{Type: protocol.MsgRequest, Method: ".lq.Lobby.login"}, "liqi/request/lq.Lobby.login"},
		{"liqi/", protocol.Message{Type: protocol.MsgNotify, Method: ".lq.ActionPrototype"}, "liqi/notify/lq.ActionPrototype"},
		{"", protocol.Message{Type: protocol.MsgResponse, Method: ".lq.FastTest.checkNetworkDelay"}, "response/lq.FastTest.checkNetworkDelay"},
	}

	for _, tt := range tests {
		if got := MessageTopic(tt.prefix, tt.msg); got != tt.want {
			t.Errorf("MessageTopic(%q, %s) = %q, want %q", tt.prefix, tt.msg.Method, got, tt.want)
		}
	}
}

func TestEnvelopeJSON(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := protocol.Message{ID: 7, Type: protocol.MsgNotify, Method: ".lq.X", Data: map[string]any{"k": "v"}}
	env := NewEnvelope(util.HostInfo{Hostname: "box", OS: "linux"}, "1.2.3", "s1", msg, at)

	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["host"] != "box" || decoded["session"] != "s1" || decoded["version"] != "1.2.3" {
		t.Errorf("metadata mismatch: %s", raw)
	}
	if decoded["timestamp"] != "2024-03-01T12:00:00Z" {
		t.Errorf("timestamp = %v", decoded["timestamp"])
	}
	payload := decoded["payload"].(map[string]any)
	if payload["type"] != "notify" || payload["method"] != ".lq.X" {
		t.Errorf("payload mismatch: %v", payload)
	}
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	if _, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus(), "dev"); err == nil {
		t.Fatal("expected error for disabled MQTT")
	}
}

func TestNewMQTTHandlerDoesNotConnect(t *testing.T) {
	cfg := config.MQTTConfig{Enabled: true, BrokerURL: "127.0.0.1", Port: 1, TopicPrefix: "liqi"}
	h, err := NewMQTTHandler(cfg, events.NewEventBus(), "dev")
	if err != nil {
		t.Fatalf("NewMQTTHandler failed: %v", err)
	}
	if h.client.IsConnected() {
		t.Error("client should not be connected before Start")
	}
	// Publishing while disconnected is a no-op.
	h.publish("liqi/test", "", nil, false)
}
