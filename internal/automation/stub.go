//go:build no_automation

package automation

import (
	"errors"
	"log/slog"

	"matter-bridge/internal/bridge"
)

var (
	ErrScriptNotFound  = errors.New("script not found")
	ErrInvalidScriptID = errors.New("invalid script id")
)

const disabledMsg = "automation disabled"

type ScriptMeta struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`
}

type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// Manager and Engine keep the API shape in builds without Lua. NewManager
// returns nil, which the web server treats as "automations not available".
type (
	Manager struct{}
	Engine  struct{}
)

func NewManager(string, *slog.Logger) (*Manager, error)        { return nil, nil }
func NewEngine(*bridge.Bridge, *Manager, *slog.Logger) *Engine { return &Engine{} }
func (*Manager) List() ([]*Script, error)                      { return nil, nil }
func (*Manager) Get(string) (*Script, error)                   { return nil, ErrScriptNotFound }
func (*Manager) Save(s *Script) (*Script, error)               { return s, nil }
func (*Manager) Delete(string) error                           { return nil }
func (*Engine) Start()                                         {}
func (*Engine) Stop()                                          {}
func (*Engine) Running() []string                              { return nil }
func (*Engine) ReloadScript(string) error                      { return nil }
func (*Engine) StopScript(string)                              {}
func (*Engine) RunScript(string) *RunResult                    { return &RunResult{Error: disabledMsg} }
func (*Engine) RunLuaCode(string) *RunResult                   { return &RunResult{Error: disabledMsg} }
