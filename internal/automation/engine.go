//go:build !no_automation

package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"matter-bridge/internal/bridge"
)

// RunResult is the outcome of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// runTimeout bounds one-shot script executions.
const runTimeout = 5 * time.Second

// sandboxed globals are removed from every script state.
var sandboxed = []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"}

// Engine keeps one Lua VM per enabled script and feeds bridge events to the
// handlers scripts register with bridge.on.
type Engine struct {
	bridge  *bridge.Bridge
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

func NewEngine(br *bridge.Bridge, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		bridge:  br,
		manager: mgr,
		logger:  logger.With("component", "automation"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to bridge events and loads every enabled script. Scripts
// that fail to load are logged and skipped.
func (e *Engine) Start() {
	e.unsub = e.bridge.Events().OnAll(e.dispatch)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	started := 0
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.launch(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
			continue
		}
		started++
	}
	e.logger.Info("automation engine started", "scripts", started)
}

// Stop cancels every VM and detaches from the event bus.
func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
	}
	e.mu.Lock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.mu.Unlock()
	e.logger.Info("automation engine stopped")
}

// Running returns the IDs of scripts with a live VM, sorted.
func (e *Engine) Running() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.vms))
	for id := range e.vms {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// ReloadScript replaces the script's VM, leaving it stopped when the script
// is disabled.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)
	s, err := e.manager.Get(id)
	if err != nil {
		return err
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.launch(s)
}

func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	vm, ok := e.vms[id]
	delete(e.vms, id)
	e.mu.Unlock()
	if ok {
		vm.cancel()
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript executes a stored script once in a throwaway VM.
func (e *Engine) RunScript(id string) *RunResult {
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: "0s"}
	}
	return e.RunLuaCode(s.LuaCode)
}

// RunLuaCode executes code once in a throwaway VM bounded by runTimeout.
// Every handler the code registers is called once with a sample event it
// accepts, so the handler bodies run too.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var (
		logMu sync.Mutex
		logs  []string
	)
	vm := newScriptVM(ctx, "_inline")
	defer vm.cancel()
	vm.logf = func(msg string) {
		logMu.Lock()
		logs = append(logs, msg)
		logMu.Unlock()
	}
	L := e.newState(vm)
	defer L.Close()
	L.SetContext(ctx)

	err := L.DoString(code)
	if err == nil {
		for _, sub := range vm.subscriptions() {
			if err = L.CallByParam(lua.P{Fn: sub.fn, Protect: true}, sub.filter.sample().table(L)); err != nil {
				break
			}
		}
	}

	logMu.Lock()
	res := &RunResult{OK: err == nil, Logs: append([]string(nil), logs...), Duration: time.Since(start).String()}
	logMu.Unlock()
	if err != nil {
		res.Error = err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Error = fmt.Sprintf("timeout (%s)", runTimeout)
		}
	}
	return res
}

// newState creates a sandboxed Lua state with the bridge module installed.
func (e *Engine) newState(vm *scriptVM) *lua.LState {
	L := lua.NewState()
	for _, name := range sandboxed {
		L.SetGlobal(name, lua.LNil)
	}
	registerBridgeModule(L, vm, e)
	return L
}

// launch loads s into a fresh VM and starts its goroutine, replacing any VM
// already running under the same ID.
func (e *Engine) launch(s *Script) error {
	vm := newScriptVM(context.Background(), s.ID)
	L := e.newState(vm)
	if err := L.DoString(s.LuaCode); err != nil {
		vm.cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go vm.loop(L)
	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatch posts ev to every handler whose filter accepts it.
func (e *Engine) dispatch(ev bridge.Event) {
	view := viewOf(ev)

	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		for _, sub := range vm.subscriptions() {
			if !sub.filter.match(view) {
				continue
			}
			fn := sub.fn
			if !vm.post(func(L *lua.LState) { e.call(L, vm.id, fn, view) }) {
				e.logger.Warn("script busy, event dropped", "id", vm.id, "type", ev.Type)
			}
		}
	}
}

func (e *Engine) call(L *lua.LState, id string, fn *lua.LFunction, view eventView) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "id", id, "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, Protect: true}, view.table(L)); err != nil {
		e.logger.Error("lua handler error", "id", id, "err", err)
	}
}
