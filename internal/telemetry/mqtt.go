// Package telemetry republishes decoded liqi traffic to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/energizer-project/liqi/internal/config"
	"github.com/energizer-project/liqi/internal/events"
	"github.com/energizer-project/liqi/internal/protocol"
	"github.com/energizer-project/liqi/internal/util"
)

// Topic suffixes below the configured prefix.
const (
	topicSessions = "sessions"
	topicFailures = "failures"
	topicStatus   = "status"
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	Host      string      `json:"host"`
	OS        string      `json:"os"`
	Version   string      `json:"version"`
	Session   string      `json:"session,omitempty"`
	Timestamp string      `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// MQTTHandler publishes bus events to an MQTT broker.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	host     util.HostInfo
	version  string
	logger   zerolog.Logger
}

// NewMQTTHandler builds the client for the configured broker. It does not
// connect; Start does.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		host:     util.GetHostInfo(),
		version:  version,
		logger:   util.ComponentLogger("mqtt"),
	}

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("liqi-%s", h.host.Hostname)
	}
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	// Last will marks the decoder offline if it drops without a clean shutdown.
	opts.SetWill(JoinTopic(cfg.TopicPrefix, topicStatus), `{"status":"offline"}`, 1, true)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		h.logger.Info().Str("broker", cfg.BrokerURL).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	h.client = mqtt.NewClient(opts)
	return h, nil
}

// Start connects, subscribes to the bus and blocks until ctx is done.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.publish(JoinTopic(h.cfg.TopicPrefix, topicStatus), "", map[string]string{"status": "online"}, true)
	h.subscribeEvents()

	<-ctx.Done()

	h.publish(JoinTopic(h.cfg.TopicPrefix, topicStatus), "", map[string]string{"status": "offline"}, true)
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventMessageDecoded, "mqtt.message", h.onMessage)
	h.eventBus.Subscribe(events.EventDecodeFailed, "mqtt.failure", h.onFailure)
	h.eventBus.Subscribe(events.EventSessionOpened, "mqtt.session", h.onSession)
	h.eventBus.Subscribe(events.EventSessionClosed, "mqtt.session", h.onSession)
}

// MessageTopic returns the topic a decoded message is published on:
// <prefix>/<type>/<method without the leading dot>.
func MessageTopic(prefix string, msg protocol.Message) string {
	return JoinTopic(prefix, msg.Type.String(), strings.TrimPrefix(msg.Method, "."))
}

// JoinTopic joins topic levels, skipping empty ones.
func JoinTopic(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		if l = strings.Trim(l, "/"); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}

// NewEnvelope wraps a payload with host metadata.
func NewEnvelope(host util.HostInfo, version, session string, payload interface{}, at time.Time) Envelope {
	return Envelope{
		Host:      host.Hostname,
		OS:        host.OS,
		Version:   version,
		Session:   session,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

func (h *MQTTHandler) publish(topic, session string, payload interface{}, retained bool) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(NewEnvelope(h.host, h.version, session, payload, time.Now()))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, retained, data)
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) onMessage(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.MessageDecodedPayload)
	if !ok {
		return nil
	}
	h.publish(MessageTopic(h.cfg.TopicPrefix, p.Message), p.Session, p.Message, false)
	return nil
}

func (h *MQTTHandler) onFailure(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.DecodeFailedPayload)
	if !ok {
		return nil
	}
	h.publish(JoinTopic(h.cfg.TopicPrefix, topicFailures), p.Session, map[string]interface{}{
		"error":      fmt.Sprint(p.Err),
		"frame_size": len(p.Frame),
	}, false)
	return nil
}

func (h *MQTTHandler) onSession(_ context.Context, event events.Event) error {
	p, ok := event.Payload.(events.SessionPayload)
	if !ok {
		return nil
	}
	h.publish(JoinTopic(h.cfg.TopicPrefix, topicSessions), p.Session, map[string]interface{}{
		"event":   string(event.Type),
		"remote":  p.RemoteAddr,
		"decoded": p.Decoded,
		"failed":  p.Failed,
		"pending": p.Pending,
	}, false)
	return nil
}
