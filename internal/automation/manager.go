//go:build !no_automation

package automation

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrScriptNotFound  = errors.New("script not found")
	ErrInvalidScriptID = errors.New("invalid script id")
)

const (
	scriptExt   = ".lua"
	headerOpen  = "--[[\n"
	headerClose = "]]\n"
	maxIDLen    = 40
)

// Manager keeps automation scripts as files in one directory.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a script manager rooted at dir, creating it if needed.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir, logger: logger.With("component", "scripts")}, nil
}

func checkID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") || id == "." {
		return fmt.Errorf("%q: %w", id, ErrInvalidScriptID)
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

// List returns every readable script, ordered by ID.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths, err := filepath.Glob(filepath.Join(m.dir, "*"+scriptExt))
	if err != nil {
		return nil, fmt.Errorf("list scripts: %w", err)
	}
	sort.Strings(paths)

	scripts := make([]*Script, 0, len(paths))
	for _, p := range paths {
		s, err := m.load(p)
		if err != nil {
			m.logger.Warn("skip unreadable script", "file", filepath.Base(p), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// Get loads one script.
func (m *Manager) Get(id string) (*Script, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, err := m.load(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%q: %w", id, ErrScriptNotFound)
	}
	return s, err
}

// Save writes s, replacing any script with the same ID. A script without
// an ID gets a fresh one derived from its name.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" {
		if err := checkID(s.ID); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.freeID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)

	data, err := encodeScript(s)
	if err != nil {
		return nil, err
	}
	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	if err := os.Rename(tmp, s.FilePath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// freeID returns base, or base_N for the first N not taken. Caller holds m.mu.
func (m *Manager) freeID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for n := 1; ; n++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// Delete removes a script.
func (m *Manager) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.path(id))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%q: %w", id, ErrScriptNotFound)
	case err != nil:
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (m *Manager) load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Script{
		ID:       strings.TrimSuffix(filepath.Base(path), scriptExt),
		FilePath: path,
	}
	body, err := decodeScript(data, &s.Meta)
	if err != nil {
		// A broken header still leaves runnable code; keep it disabled.
		m.logger.Warn("script header unreadable", "file", path, "err", err)
		s.Meta = ScriptMeta{}
	}
	s.LuaCode = body
	return s, nil
}

// decodeScript splits data into its YAML header and Lua body.
func decodeScript(data []byte, meta *ScriptMeta) (string, error) {
	text := string(data)
	if !strings.HasPrefix(text, headerOpen) {
		return text, nil
	}
	header, body, found := strings.Cut(text[len(headerOpen):], headerClose)
	if !found {
		return text, fmt.Errorf("unterminated header")
	}
	if err := yaml.Unmarshal([]byte(header), meta); err != nil {
		return strings.TrimLeft(body, "\n"), fmt.Errorf("parse header: %w", err)
	}
	return strings.TrimLeft(body, "\n"), nil
}

func encodeScript(s *Script) ([]byte, error) {
	header, err := yaml.Marshal(&s.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode script header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(headerOpen)
	buf.Write(header)
	buf.WriteString(headerClose)
	if s.LuaCode != "" {
		buf.WriteByte('\n')
		buf.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// slugify lowercases name and collapses runs of anything outside [a-z0-9]
// into one underscore.
func slugify(name string) string {
	var b strings.Builder
	gap := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if gap && b.Len() > 0 {
				b.WriteByte('_')
			}
			gap = false
			b.WriteRune(r)
			continue
		}
		gap = true
	}
	s := b.String()
	if len(s) > maxIDLen {
		s = strings.TrimRight(s[:maxIDLen], "_")
	}
	return s
}
