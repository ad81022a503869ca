//go:build !no_automation

package automation

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

func newTestEngine(t *testing.T) (*Engine, *bridge.Bridge) {
	t.Helper()
	logger := testLogger()
	reg := matter.NewRegistry(logger)
	clusters.RegisterAll(reg)
	br := bridge.New(bridge.NewLogStack(logger), reg, bridge.NewEventBus(logger), logger)
	t.Cleanup(br.Close)
	if err := br.Seed(bridge.DefaultSeed); err != nil {
		t.Fatal(err)
	}
	mgr, err := NewManager(filepath.Join(t.TempDir(), "scripts"), logger)
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(br, mgr, logger)
	t.Cleanup(e.Stop)
	return e, br
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  interface{}
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool true", true, lua.LTBool},
		{"bool false", false, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"bytes", []byte{0x01}, lua.LTString},
		{"int", 42, lua.LTNumber},
		{"int64", int64(99), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"uint8", uint8(255), lua.LTNumber},
		{"uint16", uint16(1024), lua.LTNumber},
		{"int16", int16(-250), lua.LTNumber},
		{"uint32", uint32(100000), lua.LTNumber},
		{"int8", int8(-10), lua.LTNumber},
		{"map", map[string]interface{}{"a": 1}, lua.LTTable},
		{"slice", []interface{}{1, 2, 3}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := goToLua(L, tt.val)
			if result.Type() != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, result.Type(), tt.want)
			}
		})
	}
}

func TestGoToLuaBoolValues(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if v := goToLua(L, true); v != lua.LTrue {
		t.Errorf("goToLua(true) = %v, want LTrue", v)
	}
	if v := goToLua(L, false); v != lua.LFalse {
		t.Errorf("goToLua(false) = %v, want LFalse", v)
	}
	if v := goToLua(L, int16(-250)); v != lua.LNumber(-250) {
		t.Errorf("goToLua(int16(-250)) = %v", v)
	}
}

func TestViewOfAttributeChange(t *testing.T) {
	v := viewOf(bridge.Event{
		Type: bridge.EventAttributeChanged,
		Data: bridge.AttributeChange{
			Endpoint:      4,
			Name:          "Temp Sensor 1",
			Cluster:       clusters.TemperatureMeasurementID,
			ClusterName:   "TemperatureMeasurement",
			Attribute:     clusters.TemperatureAttrMeasuredValue,
			AttributeName: "MeasuredValue",
			Value:         matter.I16(2150),
			Source:        bridge.SourceStack,
		},
	})

	if v.Type != bridge.EventAttributeChanged || !v.HasEndpoint || v.Endpoint != 4 {
		t.Errorf("view = %+v", v)
	}
	if v.Value != int16(2150) {
		t.Errorf("value = %v (%T)", v.Value, v.Value)
	}
	if v.AttributeName != "MeasuredValue" || v.Source != bridge.SourceStack {
		t.Errorf("view = %+v", v)
	}

	L := lua.NewState()
	defer L.Close()
	tbl := v.table(L)
	if got := tbl.RawGetString("value"); got != lua.LNumber(2150) {
		t.Errorf("lua value = %v", got)
	}
	if got := tbl.RawGetString("cluster"); got != lua.LNumber(clusters.TemperatureMeasurementID) {
		t.Errorf("lua cluster = %v", got)
	}
	if got := tbl.RawGetString("kind"); got != lua.LNil {
		t.Errorf("lua kind = %v, want nil", got)
	}
}

func TestViewOfDeviceAndReset(t *testing.T) {
	dev, err := bridge.Build(bridge.ArchetypeLight, "Porch", 7, matter.EndpointAggregator)
	if err != nil {
		t.Fatal(err)
	}
	v := viewOf(bridge.Event{Type: bridge.EventDeviceAdded, Data: bridge.DeviceEvent{Device: dev}})
	if v.Endpoint != 7 || v.Name != "Porch" {
		t.Errorf("view = %+v", v)
	}
	if v.Kind != "light" || v.Archetype != "light" {
		t.Errorf("kind/archetype = %v/%v", v.Kind, v.Archetype)
	}
	if v.HasCluster {
		t.Error("device event should carry no cluster")
	}

	v = viewOf(bridge.Event{Type: bridge.EventBridgeReset, Data: 3})
	if v.Count != 3 || v.HasEndpoint {
		t.Errorf("reset view = %+v", v)
	}
}

func TestEventFilterMatch(t *testing.T) {
	view := eventView{
		Type:          bridge.EventAttributeChanged,
		Endpoint:      2,
		HasEndpoint:   true,
		Name:          "Light 1",
		Cluster:       clusters.OnOffID,
		HasCluster:    true,
		AttributeName: "OnOff",
	}
	all := eventFilter{eventType: bridge.EventAttributeChanged, endpoint: -1, cluster: -1}
	with := func(mod func(*eventFilter)) eventFilter {
		f := all
		mod(&f)
		return f
	}

	tests := []struct {
		name   string
		filter eventFilter
		typ    string
		want   bool
	}{
		{"any", all, bridge.EventAttributeChanged, true},
		{"other type", all, bridge.EventDeviceAdded, false},
		{"endpoint match", with(func(f *eventFilter) { f.endpoint = 2 }), bridge.EventAttributeChanged, true},
		{"endpoint mismatch", with(func(f *eventFilter) { f.endpoint = 3 }), bridge.EventAttributeChanged, false},
		{"cluster match", with(func(f *eventFilter) { f.cluster = 6 }), bridge.EventAttributeChanged, true},
		{"cluster mismatch", with(func(f *eventFilter) { f.cluster = 0x0402 }), bridge.EventAttributeChanged, false},
		{"attribute case-insensitive", with(func(f *eventFilter) { f.attribute = "onoff" }), bridge.EventAttributeChanged, true},
		{"name match", with(func(f *eventFilter) { f.name = "light 1" }), bridge.EventAttributeChanged, true},
		{"name mismatch", with(func(f *eventFilter) { f.name = "Light 2" }), bridge.EventAttributeChanged, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := view
			v.Type = tt.typ
			if got := tt.filter.match(v); got != tt.want {
				t.Errorf("match = %v, want %v", got, tt.want)
			}
		})
	}

	// Reset events carry no endpoint, so endpoint filters never match them.
	f := eventFilter{eventType: bridge.EventBridgeReset, endpoint: 2, cluster: -1}
	if f.match(eventView{Type: bridge.EventBridgeReset, Count: 1}) {
		t.Error("endpoint filter matched a reset event")
	}
}

func TestEventFilterSampleMatches(t *testing.T) {
	f := eventFilter{eventType: bridge.EventAttributeChanged, endpoint: 2, cluster: 6, attribute: "OnOff", name: "Hall"}
	if !f.match(f.sample()) {
		t.Errorf("sample %+v rejected by %s", f.sample(), f)
	}
}

func TestScriptVMPostAfterCancel(t *testing.T) {
	vm := newScriptVM(context.Background(), "x")
	if !vm.post(func(*lua.LState) {}) {
		t.Fatal("post to live VM failed")
	}
	vm.cancel()
	if vm.post(func(*lua.LState) {}) {
		t.Error("post to cancelled VM succeeded")
	}
}

func TestEngineStartsEnabledScripts(t *testing.T) {
	e, _ := newTestEngine(t)

	if _, err := e.manager.Save(&Script{Meta: ScriptMeta{Name: "On", Enabled: true}, LuaCode: `bridge.log("on")`}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.manager.Save(&Script{Meta: ScriptMeta{Name: "Off", Enabled: false}, LuaCode: `bridge.log("off")`}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.manager.Save(&Script{Meta: ScriptMeta{Name: "Broken", Enabled: true}, LuaCode: `this is not lua`}); err != nil {
		t.Fatal(err)
	}

	e.Start()
	if got := e.Running(); len(got) != 1 || got[0] != "on" {
		t.Fatalf("running = %v, want [on]", got)
	}

	e.StopScript("on")
	if got := e.Running(); len(got) != 0 {
		t.Errorf("running after stop = %v", got)
	}

	s, err := e.manager.Get("off")
	if err != nil {
		t.Fatal(err)
	}
	s.Meta.Enabled = true
	if _, err := e.manager.Save(s); err != nil {
		t.Fatal(err)
	}
	if err := e.ReloadScript("off"); err != nil {
		t.Fatal(err)
	}
	got := e.Running()
	sort.Strings(got)
	if len(got) != 1 || got[0] != "off" {
		t.Errorf("running after reload = %v, want [off]", got)
	}

	if err := e.ReloadScript("broken"); err == nil {
		t.Error("reload of broken script succeeded")
	}
}

func TestEngineDispatchesEventsToScripts(t *testing.T) {
	e, br := newTestEngine(t)

	code := `
bridge.on("attribute_changed", {endpoint=2, attribute="OnOff"}, function(event)
    if event.value then
        bridge.set_temperature("Temp Sensor 1", 21.5)
    end
end)
`
	if _, err := e.manager.Save(&Script{ID: "follow", Meta: ScriptMeta{Name: "Follow", Enabled: true}, LuaCode: code}); err != nil {
		t.Fatal(err)
	}
	e.Start()

	if _, err := br.SetOnOff(2, true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "temperature update", func() bool {
		d, _ := br.Device(4)
		return d.State.(*bridge.TemperatureSensor).CentiDegrees == 2150
	})
}

func TestEngineAfterRunsOnScriptVM(t *testing.T) {
	e, br := newTestEngine(t)

	code := `bridge.after(0.01, function() bridge.rename(3, "Porch") end)`
	if _, err := e.manager.Save(&Script{ID: "later", Meta: ScriptMeta{Name: "Later", Enabled: true}, LuaCode: code}); err != nil {
		t.Fatal(err)
	}
	e.Start()

	waitFor(t, "rename", func() bool {
		d, _ := br.Device(3)
		return d.Name == "Porch"
	})
}

func TestRunScriptNotFound(t *testing.T) {
	e, _ := newTestEngine(t)

	res := e.RunScript("missing")
	if res.OK {
		t.Fatal("RunScript of missing script succeeded")
	}
	if res.Error == "" {
		t.Error("expected error message")
	}
}
