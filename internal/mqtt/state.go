//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

func batteryLevelName(level uint8) string {
	if int(level) < len(clusters.BatChargeLevelNames) {
		return clusters.BatChargeLevelNames[level]
	}
	return fmt.Sprintf("unknown_%d", level)
}

func parseBatteryLevel(v any) (uint8, bool) {
	switch x := v.(type) {
	case string:
		return clusters.ParseBatChargeLevel(x)
	case float64:
		if x >= 0 && x < float64(len(clusters.BatChargeLevelNames)) && x == math.Trunc(x) {
			return uint8(x), true
		}
	}
	return 0, false
}

func onOffString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// statePayload builds the retained JSON state for a device.
func statePayload(d *bridge.Device) map[string]any {
	state := map[string]any{
		"name":      d.Name,
		"endpoint":  d.Endpoint,
		"reachable": d.Reachable,
	}
	switch s := d.State.(type) {
	case *bridge.Light:
		state["state"] = onOffString(s.On)
	case *bridge.TemperatureSensor:
		state["temperature"] = float64(s.CentiDegrees) / 100
	case *bridge.HumiditySensor:
		state["humidity"] = float64(s.CentiPercent) / 100
	case *bridge.Composed:
		state["battery"] = batteryLevelName(s.BatteryChargeLevel)
	case *bridge.Generic:
		if v, ok := s.Attributes[bridge.AttrKey{Cluster: clusters.DoorLockID, Attribute: clusters.DoorLockAttrLockState}]; ok {
			if uint8(v.AsUint()) == clusters.LockStateLocked {
				state["lock"] = "LOCKED"
			} else {
				state["lock"] = "UNLOCKED"
			}
		}
		if v, ok := s.Attributes[bridge.AttrKey{Cluster: clusters.OnOffID, Attribute: clusters.OnOffAttrOnOff}]; ok {
			state["state"] = onOffString(v.AsBool())
		}
		attrs := make(map[string]any, len(s.Attributes))
		for _, a := range s.SortedAttributes() {
			attrs[fmt.Sprintf("0x%04X/0x%04X", a.Cluster, a.Attribute)] = a.Value.Interface()
		}
		state["attributes"] = attrs
	}
	return state
}

var errBadCommand = errors.New("invalid command")

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// centi converts a decimal reading into hundredths, rejecting values that
// do not fit the target range.
func centi(v float64, lo, hi float64) (float64, bool) {
	c := math.Round(v * 100)
	if c < lo || c > hi {
		return 0, false
	}
	return c, true
}

// commandTarget is the subset of the bridge a /set command drives.
type commandTarget interface {
	Device(ep uint16) (*bridge.Device, bool)
	SetOnOff(ep uint16, on bool) (bool, error)
	ToggleOnOff(ep uint16) (bool, error)
	SetTemperature(ep uint16, centiDegrees int16) (bool, error)
	SetHumidity(ep uint16, centiPercent uint16) (bool, error)
	SetBatteryChargeLevel(ep uint16, level uint8) (bool, error)
	SetReachable(ep uint16, reachable bool) (bool, error)
	Rename(ep uint16, name string) (bool, error)
	UpdateAttribute(ep, clusterID, attrID uint16, v matter.Value) (bool, error)
}

// applyCommand executes a JSON /set payload against one endpoint. Every
// recognised key is applied; the first failure is returned.
func applyCommand(t commandTarget, ep uint16, payload []byte) error {
	d, ok := t.Device(ep)
	if !ok {
		return fmt.Errorf("endpoint %d: %w", ep, bridge.ErrEndpointNotFound)
	}
	var cmd map[string]interface{}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("%w: %v", errBadCommand, err)
	}

	var errs []error
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if state, ok := cmd["state"].(string); ok {
		fail(applyState(t, d, strings.ToUpper(state)))
	}
	if v, ok := toFloat64(cmd["temperature"]); ok {
		c, ok := centi(v, float64(clusters.TemperatureMinCentiDegrees), float64(clusters.TemperatureMaxCentiDegrees))
		if !ok {
			fail(fmt.Errorf("%w: temperature %v out of range", errBadCommand, v))
		} else {
			_, err := t.SetTemperature(ep, int16(c))
			fail(err)
		}
	}
	if v, ok := toFloat64(cmd["humidity"]); ok {
		c, ok := centi(v, float64(clusters.HumidityMinCentiPercent), float64(clusters.HumidityMaxCentiPercent))
		if !ok {
			fail(fmt.Errorf("%w: humidity %v out of range", errBadCommand, v))
		} else {
			_, err := t.SetHumidity(ep, uint16(c))
			fail(err)
		}
	}
	if raw, ok := cmd["battery"]; ok {
		level, ok := parseBatteryLevel(raw)
		if !ok {
			fail(fmt.Errorf("%w: battery %v", errBadCommand, raw))
		} else {
			_, err := t.SetBatteryChargeLevel(ep, level)
			fail(err)
		}
	}
	if reachable, ok := cmd["reachable"].(bool); ok {
		_, err := t.SetReachable(ep, reachable)
		fail(err)
	}
	if name, ok := cmd["name"].(string); ok {
		_, err := t.Rename(ep, name)
		fail(err)
	}
	if lock, ok := cmd["lock"].(string); ok {
		state := clusters.LockStateLocked
		switch strings.ToUpper(lock) {
		case "LOCK":
		case "UNLOCK":
			state = clusters.LockStateUnlocked
		default:
			fail(fmt.Errorf("%w: lock %q", errBadCommand, lock))
			return errors.Join(errs...)
		}
		_, err := t.UpdateAttribute(ep, clusters.DoorLockID, clusters.DoorLockAttrLockState, matter.U8(state))
		fail(err)
	}
	return errors.Join(errs...)
}

func applyState(t commandTarget, d *bridge.Device, state string) error {
	if _, ok := d.State.(*bridge.Generic); ok {
		var on bool
		switch state {
		case "ON":
			on = true
		case "OFF":
		default:
			return fmt.Errorf("%w: state %q", errBadCommand, state)
		}
		_, err := t.UpdateAttribute(d.Endpoint, clusters.OnOffID, clusters.OnOffAttrOnOff, matter.Bool(on))
		return err
	}
	var err error
	switch state {
	case "ON":
		_, err = t.SetOnOff(d.Endpoint, true)
	case "OFF":
		_, err = t.SetOnOff(d.Endpoint, false)
	case "TOGGLE":
		_, err = t.ToggleOnOff(d.Endpoint)
	default:
		err = fmt.Errorf("%w: state %q", errBadCommand, state)
	}
	return err
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
