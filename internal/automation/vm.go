//go:build !no_automation

package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"matter-bridge/internal/bridge"
)

const (
	vmInboxLen           = 64
	maxHandlersPerScript = 100
)

// eventView is a bridge event flattened into the fields Lua handlers see.
// Endpoint and Cluster are only meaningful when the matching Has flag is set.
type eventView struct {
	Type          string
	Endpoint      uint16
	HasEndpoint   bool
	Name          string
	Cluster       uint16
	HasCluster    bool
	ClusterName   string
	Attribute     uint16
	AttributeName string
	Value         any
	Source        string
	Kind          string
	Archetype     string
	Count         int
}

func viewOf(ev bridge.Event) eventView {
	v := eventView{Type: ev.Type}
	switch data := ev.Data.(type) {
	case bridge.AttributeChange:
		v.Endpoint, v.HasEndpoint = data.Endpoint, true
		v.Cluster, v.HasCluster = data.Cluster, true
		v.Name = data.Name
		v.ClusterName = data.ClusterName
		v.Attribute = data.Attribute
		v.AttributeName = data.AttributeName
		v.Value = data.Value.Interface()
		v.Source = data.Source
	case bridge.DeviceEvent:
		if d := data.Device; d != nil {
			v.Endpoint, v.HasEndpoint = d.Endpoint, true
			v.Name = d.Name
			v.Kind = d.Kind()
			v.Archetype = string(d.Archetype)
		}
	case int:
		v.Count = data
	}
	return v
}

// table renders v for Lua. Empty fields are left out so scripts can test
// them with "if event.x then".
func (v eventView) table(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(v.Type))
	set := func(k, s string) {
		if s != "" {
			t.RawSetString(k, lua.LString(s))
		}
	}
	if v.HasEndpoint {
		t.RawSetString("endpoint", lua.LNumber(v.Endpoint))
	}
	if v.HasCluster {
		t.RawSetString("cluster", lua.LNumber(v.Cluster))
		t.RawSetString("attribute", lua.LNumber(v.Attribute))
	}
	set("name", v.Name)
	set("cluster_name", v.ClusterName)
	set("attribute_name", v.AttributeName)
	set("source", v.Source)
	set("kind", v.Kind)
	set("archetype", v.Archetype)
	if v.Value != nil {
		t.RawSetString("value", goToLua(L, v.Value))
	}
	if v.Type == bridge.EventBridgeReset {
		t.RawSetString("count", lua.LNumber(v.Count))
	}
	return t
}

// eventFilter selects events for a handler. Negative numbers and empty
// strings match anything.
type eventFilter struct {
	eventType string
	endpoint  int
	cluster   int
	attribute string
	name      string
}

func (f eventFilter) match(v eventView) bool {
	switch {
	case f.eventType != v.Type:
		return false
	case f.endpoint >= 0 && (!v.HasEndpoint || int(v.Endpoint) != f.endpoint):
		return false
	case f.cluster >= 0 && (!v.HasCluster || int(v.Cluster) != f.cluster):
		return false
	case f.attribute != "" && !strings.EqualFold(f.attribute, v.AttributeName):
		return false
	case f.name != "" && !strings.EqualFold(f.name, v.Name):
		return false
	}
	return true
}

// sample builds an event that f accepts, with a truthy value. One-shot runs
// use it to exercise handlers.
func (f eventFilter) sample() eventView {
	v := eventView{Type: f.eventType, Name: f.name, AttributeName: f.attribute, Value: true}
	if f.endpoint >= 0 {
		v.Endpoint, v.HasEndpoint = uint16(f.endpoint), true
	}
	if f.cluster >= 0 {
		v.Cluster, v.HasCluster = uint16(f.cluster), true
	}
	return v
}

func (f eventFilter) String() string {
	return fmt.Sprintf("%s endpoint=%d cluster=%d attribute=%q name=%q", f.eventType, f.endpoint, f.cluster, f.attribute, f.name)
}

type subscription struct {
	filter eventFilter
	fn     *lua.LFunction
}

// scriptVM owns one Lua state. After loading, the state is only touched by
// the goroutine running loop; everything else posts closures to the inbox.
type scriptVM struct {
	id     string
	inbox  chan func(*lua.LState)
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs []subscription

	// logf receives bridge.log output when set.
	logf func(msg string)
}

func newScriptVM(ctx context.Context, id string) *scriptVM {
	ctx, cancel := context.WithCancel(ctx)
	return &scriptVM{
		id:     id,
		inbox:  make(chan func(*lua.LState), vmInboxLen),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (vm *scriptVM) subscribe(s subscription) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.subs) >= maxHandlersPerScript {
		return fmt.Errorf("too many handlers (max %d)", maxHandlersPerScript)
	}
	vm.subs = append(vm.subs, s)
	return nil
}

func (vm *scriptVM) subscriptions() []subscription {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return append([]subscription(nil), vm.subs...)
}

// post queues fn for the VM goroutine. It reports false when the VM has
// stopped or its inbox is full.
func (vm *scriptVM) post(fn func(*lua.LState)) bool {
	select {
	case <-vm.ctx.Done():
		return false
	default:
	}
	select {
	case vm.inbox <- fn:
		return true
	default:
		return false
	}
}

// loop runs posted closures until the VM is cancelled, then closes L.
func (vm *scriptVM) loop(L *lua.LState) {
	defer L.Close()
	for {
		select {
		case <-vm.ctx.Done():
			return
		case fn := <-vm.inbox:
			fn(L)
		}
	}
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	}
	if n, ok := number(v); ok {
		return lua.LNumber(n)
	}
	return lua.LString(fmt.Sprint(v))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
