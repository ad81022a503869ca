//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter/clusters"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/sensor/matter_bridge_ep4/temperature/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

type haAvailability struct {
	Topic string `json:"topic"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	StateTopic          string           `json:"state_topic"`
	CommandTopic        string           `json:"command_topic,omitempty"`
	Availability        []haAvailability `json:"availability"`
	AvailabilityMode    string           `json:"availability_mode,omitempty"`
	ValueTemplate       string           `json:"value_template,omitempty"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	PayloadOn           string           `json:"payload_on,omitempty"`
	PayloadOff          string           `json:"payload_off,omitempty"`
	PayloadLock         string           `json:"payload_lock,omitempty"`
	PayloadUnlock       string           `json:"payload_unlock,omitempty"`
	StateLocked         string           `json:"state_locked,omitempty"`
	StateUnlocked       string           `json:"state_unlocked,omitempty"`
	CommandTemplate     string           `json:"command_template,omitempty"`
	Options             []string         `json:"options,omitempty"`
	SupportedColorModes []string         `json:"supported_color_modes,omitempty"`
	Schema              string           `json:"schema,omitempty"`
	Device              haDevice         `json:"device"`
}

const bridgeIdentifier = "matter_bridge"

// deviceIdentifier returns the HA device registry identifier for an endpoint.
func deviceIdentifier(ep uint16) string {
	return fmt.Sprintf("%s_ep%d", bridgeIdentifier, ep)
}

// deviceTopicName returns the topic segment for a device. Endpoints are
// stable across renames, so topics are keyed by endpoint.
func deviceTopicName(ep uint16) string {
	return fmt.Sprintf("ep%d", ep)
}

// discoveryContext carries what every component of one device shares.
type discoveryContext struct {
	nodeID     string
	name       string
	stateTopic string
	cmdTopic   string
	avail      []haAvailability
	device     haDevice
}

// buildDiscovery generates HA discovery messages for a device based on its
// state variant. Composed children are grouped under their parent's HA
// device; parent may be nil for top-level devices.
func buildDiscovery(dev, parent *bridge.Device, prefix string) []discoveryMsg {
	ctx := discoveryContext{
		nodeID:     deviceIdentifier(dev.Endpoint),
		name:       dev.Name,
		stateTopic: prefix + "/" + deviceTopicName(dev.Endpoint),
		cmdTopic:   prefix + "/" + deviceTopicName(dev.Endpoint) + "/set",
		avail: []haAvailability{
			{Topic: prefix + "/bridge/state"},
			{Topic: prefix + "/" + deviceTopicName(dev.Endpoint) + "/availability"},
		},
		device: haDevice{
			Identifiers:  []string{deviceIdentifier(dev.Endpoint)},
			Manufacturer: "matter-bridge",
			Model:        string(dev.Archetype),
			Name:         dev.Name,
			ViaDevice:    bridgeIdentifier,
		},
	}
	if parent != nil {
		ctx.device = haDevice{
			Identifiers:  []string{deviceIdentifier(parent.Endpoint)},
			Manufacturer: "matter-bridge",
			Model:        string(parent.Archetype),
			Name:         parent.Name,
			ViaDevice:    bridgeIdentifier,
		}
		ctx.avail[1] = haAvailability{Topic: prefix + "/" + deviceTopicName(parent.Endpoint) + "/availability"}
	}

	var msgs []discoveryMsg
	switch s := dev.State.(type) {
	case *bridge.Light:
		msgs = append(msgs, buildLight(ctx))
	case *bridge.TemperatureSensor:
		msgs = append(msgs, buildSensor(ctx, "temperature", "Temperature", "temperature", "°C",
			"{{ value_json.temperature }}"))
	case *bridge.HumiditySensor:
		msgs = append(msgs, buildSensor(ctx, "humidity", "Humidity", "humidity", "%",
			"{{ value_json.humidity }}"))
	case *bridge.Composed:
		msgs = append(msgs, buildBatteryLevel(ctx))
	case *bridge.Generic:
		if dev.HasCluster(clusters.DoorLockID) {
			msgs = append(msgs, buildLock(ctx))
		} else if _, ok := s.Attributes[bridge.AttrKey{Cluster: clusters.OnOffID, Attribute: clusters.OnOffAttrOnOff}]; ok {
			msgs = append(msgs, buildSwitch(ctx))
		}
	}
	return msgs
}

func availabilityFields(ctx discoveryContext, p *haDiscovery) {
	p.Availability = ctx.avail
	p.AvailabilityMode = "all"
	p.Device = ctx.device
}

func buildSensor(ctx discoveryContext, object, suffix, deviceClass, unit, valueTmpl string) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", ctx.nodeID, object)
	payload := haDiscovery{
		Name:              ctx.name + " " + suffix,
		UniqueID:          ctx.nodeID + "_" + object,
		StateTopic:        ctx.stateTopic,
		ValueTemplate:     valueTmpl,
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
		StateClass:        "measurement",
	}
	availabilityFields(ctx, &payload)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildBatteryLevel(ctx discoveryContext) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/sensor/%s/battery_level/config", ctx.nodeID)
	payload := haDiscovery{
		Name:          ctx.name + " Battery",
		UniqueID:      ctx.nodeID + "_battery_level",
		StateTopic:    ctx.stateTopic,
		ValueTemplate: "{{ value_json.battery }}",
		DeviceClass:   "enum",
		Options:       clusters.BatChargeLevelNames[:],
	}
	availabilityFields(ctx, &payload)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildLight(ctx discoveryContext) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/light/%s/light/config", ctx.nodeID)
	payload := haDiscovery{
		Name:                ctx.name,
		UniqueID:            ctx.nodeID + "_light",
		StateTopic:          ctx.stateTopic,
		CommandTopic:        ctx.cmdTopic,
		SupportedColorModes: []string{"onoff"},
		Schema:              "json",
	}
	availabilityFields(ctx, &payload)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildSwitch(ctx discoveryContext) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/switch/%s/switch/config", ctx.nodeID)
	payload := haDiscovery{
		Name:            ctx.name,
		UniqueID:        ctx.nodeID + "_switch",
		StateTopic:      ctx.stateTopic,
		CommandTopic:    ctx.cmdTopic,
		ValueTemplate:   "{{ value_json.state }}",
		CommandTemplate: `{"state":"{{ value }}"}`,
		PayloadOn:       "ON",
		PayloadOff:      "OFF",
	}
	availabilityFields(ctx, &payload)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildLock(ctx discoveryContext) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/lock/%s/lock/config", ctx.nodeID)
	payload := haDiscovery{
		Name:            ctx.name,
		UniqueID:        ctx.nodeID + "_lock",
		StateTopic:      ctx.stateTopic,
		CommandTopic:    ctx.cmdTopic,
		ValueTemplate:   "{{ value_json.lock }}",
		CommandTemplate: `{"lock":"{{ value }}"}`,
		PayloadLock:     "LOCK",
		PayloadUnlock:   "UNLOCK",
		StateLocked:     "LOCKED",
		StateUnlocked:   "UNLOCKED",
	}
	availabilityFields(ctx, &payload)
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages to remove an
// endpoint from HA.
func buildRemoveDiscovery(ep uint16) []discoveryMsg {
	nodeID := deviceIdentifier(ep)

	// Remove all possible component types.
	components := []struct{ comp, obj string }{
		{"light", "light"},
		{"switch", "switch"},
		{"lock", "lock"},
		{"sensor", "temperature"},
		{"sensor", "humidity"},
		{"sensor", "battery_level"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
