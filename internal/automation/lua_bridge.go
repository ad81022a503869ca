//go:build !no_automation

package automation

import (
	"math"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

// registerBridgeModule registers the `bridge` global table in a Lua state.
func registerBridgeModule(L *lua.LState, vm *scriptVM, e *Engine) {
	funcs := map[string]lua.LGFunction{
		"on":              func(L *lua.LState) int { return bridgeOn(L, vm) },
		"turn_on":         func(L *lua.LState) int { return bridgeSetOnOff(L, e, "on") },
		"turn_off":        func(L *lua.LState) int { return bridgeSetOnOff(L, e, "off") },
		"toggle":          func(L *lua.LState) int { return bridgeSetOnOff(L, e, "toggle") },
		"set_temperature": func(L *lua.LState) int { return bridgeSetTemperature(L, e) },
		"set_humidity":    func(L *lua.LState) int { return bridgeSetHumidity(L, e) },
		"set_battery":     func(L *lua.LState) int { return bridgeSetBattery(L, e) },
		"set_reachable":   func(L *lua.LState) int { return bridgeSetReachable(L, e) },
		"set_attribute":   func(L *lua.LState) int { return bridgeSetAttribute(L, e) },
		"rename":          func(L *lua.LState) int { return bridgeRename(L, e) },
		"get":             func(L *lua.LState) int { return bridgeGet(L, e) },
		"devices":         func(L *lua.LState) int { return bridgeDevices(L, e) },
		"after":           func(L *lua.LState) int { return bridgeAfter(L, vm, e) },
		"log":             func(L *lua.LState) int { return bridgeLog(L, vm, e) },
	}
	L.SetGlobal("bridge", L.SetFuncs(L.NewTable(), funcs))
}

// bridge.on(type, filter, callback)
//
// filter keys: endpoint, cluster, attribute (attribute name), name (device name).
func bridgeOn(L *lua.LState, vm *scriptVM) int {
	f := eventFilter{eventType: L.CheckString(1), endpoint: -1, cluster: -1}
	opts := L.OptTable(2, L.NewTable())
	fn := L.CheckFunction(3)

	if n, ok := opts.RawGetString("endpoint").(lua.LNumber); ok {
		f.endpoint = int(n)
	}
	if n, ok := opts.RawGetString("cluster").(lua.LNumber); ok {
		f.cluster = int(n)
	}
	if s, ok := opts.RawGetString("attribute").(lua.LString); ok {
		f.attribute = string(s)
	}
	if s, ok := opts.RawGetString("name").(lua.LString); ok {
		f.name = string(s)
	}
	if err := vm.subscribe(subscription{filter: f, fn: fn}); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

// resolveEndpoint maps a Lua target (endpoint number, numeric string or
// device name) to an endpoint.
func resolveEndpoint(e *Engine, target lua.LValue) (uint16, bool) {
	switch t := target.(type) {
	case lua.LNumber:
		if t < 0 || t > math.MaxUint16 {
			return 0, false
		}
		_, ok := e.bridge.Device(uint16(t))
		return uint16(t), ok
	case lua.LString:
		if n, err := strconv.ParseUint(string(t), 10, 16); err == nil {
			_, ok := e.bridge.Device(uint16(n))
			return uint16(n), ok
		}
		for _, d := range e.bridge.Devices() {
			if strings.EqualFold(d.Name, string(t)) {
				return d.Endpoint, true
			}
		}
	}
	return 0, false
}

func checkEndpoint(L *lua.LState, e *Engine) (uint16, bool) {
	target := L.CheckAny(1)
	ep, ok := resolveEndpoint(e, target)
	if !ok {
		e.logger.Warn("device not found", "target", target.String())
		L.Push(lua.LNil)
		L.Push(lua.LString("device not found: " + target.String()))
	}
	return ep, ok
}

// pushResult returns (changed) on success or (nil, message) on failure.
func pushResult(L *lua.LState, changed bool, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(changed))
	return 1
}

// bridge.turn_on/turn_off/toggle(target)
func bridgeSetOnOff(L *lua.LState, e *Engine, op string) int {
	ep, ok := checkEndpoint(L, e)
	if !ok {
		return 2
	}
	var (
		changed bool
		err     error
	)
	switch op {
	case "on":
		changed, err = e.bridge.SetOnOff(ep, true)
	case "off":
		changed, err = e.bridge.SetOnOff(ep, false)
	default:
		_, err = e.bridge.ToggleOnOff(ep)
		changed = err == nil
	}
	return pushResult(L, changed, err)
}

// bridge.set_temperature(target, celsius)
func bridgeSetTemperature(L *lua.LState, e *Engine) int {
	ep, ok := checkEndpoint(L, e)
	if !ok {
		return 2
	}
	c := math.Round(float64(L.CheckNumber(2)) * 100)
	if c < float64(clusters.TemperatureMinCentiDegrees) || c > float64(clusters.TemperatureMaxCentiDegrees) {
		L.ArgError(2, "temperature out of range")
		return 0
	}
	changed, err := e.bridge.SetTemperature(ep, int16(c))
	return pushResult(L, changed, err)
}

// bridge.set_humidity(target, percent)
func bridgeSetHumidity(L *lua.LState, e *Engine) int {
	ep, ok := checkEndpoint(L, e)
	if !ok {
		return 2
	}
	c := math.Round(float64(L.CheckNumber(2)) * 100)
	if c < float64(clusters.HumidityMinCentiPercent) || c > float64(clusters.HumidityMaxCentiPercent) {
		L.ArgError(2, "humidity out of range")
		return 0
	}
	changed, err := e.bridge.SetHumidity(ep, uint16(c))
	return pushResult(L, changed, err)
}

// bridge.set_battery(target, level) where level is 0-2 or ok/warning/critical
func bridgeSetBattery(L *lua.LState, e *Engine) int {
	ep, ok := checkEndpoint(L, e)
	if !ok {
		return 2
	}
	var level uint8
	switch v := L.CheckAny(2).(type) {
	case lua.LNumber:
		if v < 0 || v > lua.LNumber(clusters.BatChargeLevelCritical) {
			L.ArgError(2, "battery level must be 0-2")
			return 0
		}
		level = uint8(v)
	case lua.LString:
		lv, ok := clusters.ParseBatChargeLevel(string(v))
		if !ok {
			L.ArgError(2, "battery level must be ok, warning or critical")
			return 0
		}
		level = lv
	default:
		L.ArgError(2, "battery level must be a number or string")
		return 0
	}
	changed, err := e.bridge.SetBatteryChargeLevel(ep, level)
	return pushResult(L, changed, err)
}

// bridge.set_reachable(target, bool)
func bridgeSetReachable(L *lua.LState, e *Engine) int {
	ep, ok := checkEndpoint(L, e)
	if !ok {
		return 2
	}
	changed, err := e.bridge.SetReachable(ep, L.CheckBool(2))
	return pushResult(L, changed, err)
}

// bridge.set_attribute(target, cluster, attribute, kind, value)
func bridgeSetAttribute(L *lua.LState, e *Engine) int {
	ep, ok := checkEndpoint(L, e)
	if !ok {
		return 2
	}
	clusterID := L.CheckInt(2)
	attrID := L.CheckInt(3)
	if clusterID < 0 || clusterID > math.MaxUint16 {
		L.ArgError(2, "cluster must be 0-65535")
		return 0
	}
	if attrID < 0 || attrID > math.MaxUint16 {
		L.ArgError(3, "attribute must be 0-65535")
		return 0
	}
	kind, err := matter.ParseKind(L.CheckString(4))
	if err != nil {
		L.ArgError(4, err.Error())
		return 0
	}

	var raw any
	switch v := L.CheckAny(5).(type) {
	case lua.LBool:
		raw = bool(v)
	case lua.LNumber:
		raw = float64(v)
	case lua.LString:
		raw = string(v)
	default:
		L.ArgError(5, "value must be a boolean, number or string")
		return 0
	}
	value, err := matter.Coerce(kind, raw)
	if err != nil {
		return pushResult(L, false, err)
	}
	changed, err := e.bridge.UpdateAttribute(ep, uint16(clusterID), uint16(attrID), value)
	return pushResult(L, changed, err)
}

// bridge.rename(target, name)
func bridgeRename(L *lua.LState, e *Engine) int {
	ep, ok := checkEndpoint(L, e)
	if !ok {
		return 2
	}
	changed, err := e.bridge.Rename(ep, L.CheckString(2))
	return pushResult(L, changed, err)
}

// deviceTable converts a device snapshot to a Lua table.
func deviceTable(L *lua.LState, d *bridge.Device) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("endpoint", lua.LNumber(d.Endpoint))
	t.RawSetString("parent", lua.LNumber(d.ParentEndpoint))
	t.RawSetString("name", lua.LString(d.Name))
	t.RawSetString("kind", lua.LString(d.Kind()))
	t.RawSetString("archetype", lua.LString(d.Archetype))
	t.RawSetString("unique_id", lua.LString(d.UniqueID))
	t.RawSetString("reachable", lua.LBool(d.Reachable))
	t.RawSetString("bridged", lua.LBool(d.BridgedNode))

	switch s := d.State.(type) {
	case *bridge.Light:
		t.RawSetString("on", lua.LBool(s.On))
	case *bridge.TemperatureSensor:
		t.RawSetString("temperature", lua.LNumber(float64(s.CentiDegrees)/100))
	case *bridge.HumiditySensor:
		t.RawSetString("humidity", lua.LNumber(float64(s.CentiPercent)/100))
	case *bridge.Composed:
		t.RawSetString("battery", lua.LNumber(s.BatteryChargeLevel))
	case *bridge.Generic:
		attrs := L.NewTable()
		for _, a := range s.SortedAttributes() {
			cl, ok := attrs.RawGetInt(int(a.Cluster)).(*lua.LTable)
			if !ok {
				cl = L.NewTable()
				attrs.RawSetInt(int(a.Cluster), cl)
			}
			cl.RawSetInt(int(a.Attribute), goToLua(L, a.Value.Interface()))
		}
		t.RawSetString("attributes", attrs)
	}
	return t
}

// bridge.get(target) returns the device table or nil.
func bridgeGet(L *lua.LState, e *Engine) int {
	ep, ok := resolveEndpoint(e, L.CheckAny(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	d, ok := e.bridge.Device(ep)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(deviceTable(L, d))
	return 1
}

// bridge.devices() returns an array of device tables in endpoint order.
func bridgeDevices(L *lua.LState, e *Engine) int {
	tbl := L.NewTable()
	for i, d := range e.bridge.Devices() {
		tbl.RawSetInt(i+1, deviceTable(L, d))
	}
	L.Push(tbl)
	return 1
}

// bridge.after(seconds, callback) runs callback on the script's VM later.
func bridgeAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	delay := time.Duration(float64(L.CheckNumber(1)) * float64(time.Second))
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		ok := vm.post(func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, Protect: true}); err != nil {
				e.logger.Error("after callback error", "id", vm.id, "err", err)
			}
		})
		if !ok {
			e.logger.Warn("after callback dropped", "id", vm.id)
		}
	}()
	return 0
}

// bridge.log(msg, ...) formats its arguments with tostring semantics.
func bridgeLog(L *lua.LState, vm *scriptVM, e *Engine) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	msg := strings.Join(parts, " ")
	if vm.logf != nil {
		vm.logf(msg)
	}
	e.logger.Info("script log", "id", vm.id, "msg", msg)
	return 0
}
