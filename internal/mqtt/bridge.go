//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

// publisher is the part of the paho client used for outgoing messages.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// Bridge mirrors bridged devices to MQTT with HA autodiscovery and accepts
// JSON commands on <prefix>/ep<N>/set.
type Bridge struct {
	client pahomqtt.Client
	pub    publisher
	br     *bridge.Bridge
	prefix string
	logger *slog.Logger
	unsub  func()

	mu        sync.Mutex
	published map[uint16]bool // endpoints with live discovery entries
}

func newBridge(br *bridge.Bridge, pub publisher, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		pub:       pub,
		br:        br,
		prefix:    prefix,
		logger:    logger.With("component", "mqtt"),
		published: make(map[uint16]bool),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(br *bridge.Bridge, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(br, nil, cfg.TopicPrefix, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "matter-bridge"
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAll()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	b.pub = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to bridge events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.br.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	if b.client != nil {
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event bridge.Event) {
	switch event.Type {
	case bridge.EventDeviceAdded:
		if de, ok := event.Data.(bridge.DeviceEvent); ok && de.Device != nil {
			b.publishDevice(de.Device)
		}
	case bridge.EventDeviceRemoved:
		if de, ok := event.Data.(bridge.DeviceEvent); ok && de.Device != nil {
			b.removeDevice(de.Device.Endpoint)
		}
	case bridge.EventAttributeChanged:
		ch, ok := event.Data.(bridge.AttributeChange)
		if !ok {
			return
		}
		d, ok := b.br.Device(ch.Endpoint)
		if !ok {
			return
		}
		if ch.Cluster == clusters.BridgedBasicInfoID && ch.Attribute == clusters.BridgedBasicAttrNodeLabel {
			// Names appear in discovery payloads.
			b.publishDiscovery(d)
		}
		if ch.Cluster == clusters.BridgedBasicInfoID && ch.Attribute == clusters.BridgedBasicAttrReachable {
			b.publishAvailability(d)
		}
		b.publishState(d)
	case bridge.EventBridgeReset:
		// Removed devices were announced one by one; sweep anything left
		// behind that the bridge no longer knows.
		b.mu.Lock()
		eps := make([]uint16, 0, len(b.published))
		for ep := range b.published {
			eps = append(eps, ep)
		}
		b.mu.Unlock()
		for _, ep := range eps {
			if _, ok := b.br.Device(ep); !ok {
				b.removeDevice(ep)
			}
		}
	}
}

func (b *Bridge) publishAll() {
	for _, d := range b.br.Devices() {
		b.publishDevice(d)
	}
}

func (b *Bridge) publishDevice(d *bridge.Device) {
	b.publishDiscovery(d)
	b.publishAvailability(d)
	b.publishState(d)
}

func (b *Bridge) publishDiscovery(d *bridge.Device) {
	var parent *bridge.Device
	if d.ParentEndpoint != matter.EndpointAggregator {
		parent, _ = b.br.Device(d.ParentEndpoint)
	}
	msgs := buildDiscovery(d, parent, b.prefix)
	for _, msg := range msgs {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.mu.Lock()
	b.published[d.Endpoint] = true
	b.mu.Unlock()
	b.logger.Debug("published HA discovery", "endpoint", d.Endpoint, "name", d.Name, "entities", len(msgs))
}

// publishAvailability is a no-op for composed children; their entities
// follow the parent's availability topic.
func (b *Bridge) publishAvailability(d *bridge.Device) {
	if !d.BridgedNode {
		return
	}
	state := "online"
	if !d.Reachable {
		state = "offline"
	}
	b.publish(b.prefix+"/"+deviceTopicName(d.Endpoint)+"/availability", []byte(state), true)
}

func (b *Bridge) publishState(d *bridge.Device) {
	b.publish(b.prefix+"/"+deviceTopicName(d.Endpoint), mustJSON(statePayload(d)), true)
}

func (b *Bridge) removeDevice(ep uint16) {
	for _, msg := range buildRemoveDiscovery(ep) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	base := b.prefix + "/" + deviceTopicName(ep)
	b.publish(base, nil, true)
	b.publish(base+"/availability", nil, true)

	b.mu.Lock()
	delete(b.published, ep)
	b.mu.Unlock()
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) subscribeCommands() {
	topic := b.prefix + "/+/set"
	b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleMessage(msg.Topic(), msg.Payload())
	})
}

// endpointFromTopic extracts N from <prefix>/epN/set.
func (b *Bridge) endpointFromTopic(topic string) (uint16, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/")
	if !ok {
		return 0, false
	}
	seg, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, false
	}
	n, ok := strings.CutPrefix(seg, "ep")
	if !ok {
		return 0, false
	}
	ep, err := strconv.ParseUint(n, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(ep), true
}

func (b *Bridge) handleMessage(topic string, payload []byte) {
	ep, ok := b.endpointFromTopic(topic)
	if !ok {
		b.logger.Warn("command on unexpected topic", "topic", topic)
		return
	}
	if err := applyCommand(b.br, ep, payload); err != nil {
		b.logger.Warn("MQTT command failed", "endpoint", ep, "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.pub.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
