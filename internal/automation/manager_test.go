//go:build !no_automation

package automation

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scripts")
	m, err := NewManager(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta: ScriptMeta{
			Name:        "Night Light",
			Description: "Dim the hall",
			Enabled:     true,
		},
		LuaCode: `bridge.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "night_light" {
		t.Errorf("id = %q, want night_light", saved.ID)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Night Light" {
		t.Errorf("name = %q, want Night Light", got.Meta.Name)
	}
	if got.Meta.Description != "Dim the hall" {
		t.Errorf("description = %q, want Dim the hall", got.Meta.Description)
	}
	if !got.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if got.LuaCode != "bridge.log(\"hello\")\n" {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		ID:      "my_script",
		Meta:    ScriptMeta{Name: "My Script", Enabled: true},
		LuaCode: `bridge.log("v1")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "my_script" {
		t.Errorf("id = %q, want my_script", saved.ID)
	}

	saved.LuaCode = `bridge.log("v2")`
	if _, err := m.Save(saved); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("my_script")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `bridge.log("v2")`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerList(t *testing.T) {
	m := newTestManager(t)

	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		_, err := m.Save(&Script{
			Meta:    ScriptMeta{Name: name, Enabled: true},
			LuaCode: `bridge.log("` + name + `")`,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// Non-script files are ignored.
	if err := os.WriteFile(filepath.Join(m.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 3 {
		t.Fatalf("list count = %d, want 3", len(scripts))
	}
	if scripts[0].ID != "alpha" || scripts[2].ID != "gamma" {
		t.Errorf("order = %s, %s", scripts[0].ID, scripts[2].ID)
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "ToDelete", Enabled: true},
		LuaCode: `bridge.log("bye")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Get after delete = %v, want ErrScriptNotFound", err)
	}
	if err := m.Delete(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second Delete = %v, want ErrScriptNotFound", err)
	}
}

func TestManagerRejectsPathIDs(t *testing.T) {
	m := newTestManager(t)

	for _, id := range []string{"..", "../etc", `a\b`, "x/y"} {
		if _, err := m.Get(id); !errors.Is(err, ErrInvalidScriptID) {
			t.Errorf("Get(%q) = %v, want ErrInvalidScriptID", id, err)
		}
		if _, err := m.Save(&Script{ID: id}); !errors.Is(err, ErrInvalidScriptID) {
			t.Errorf("Save(%q) = %v, want ErrInvalidScriptID", id, err)
		}
		if err := m.Delete(id); !errors.Is(err, ErrInvalidScriptID) {
			t.Errorf("Delete(%q) = %v, want ErrInvalidScriptID", id, err)
		}
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)

	s1, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `bridge.log("1")`})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}, LuaCode: `bridge.log("2")`})
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID != "dup" || s2.ID != "dup_1" {
		t.Errorf("ids = %q, %q, want dup, dup_1", s1.ID, s2.ID)
	}

	s3, err := m.Save(&Script{Meta: ScriptMeta{Name: "!!!"}})
	if err != nil {
		t.Fatal(err)
	}
	if s3.ID != "script" {
		t.Errorf("id for unsluggable name = %q, want script", s3.ID)
	}
}

func TestParseScriptFile(t *testing.T) {
	dir := t.TempDir()
	content := `--[[
name: Hall Light
description: Follow the door lock
enabled: true
]]

bridge.on("attribute_changed", {name="Front Door"}, function(event)
    bridge.turn_on("Hall")
end)
`
	path := filepath.Join(dir, "hall.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: testLogger()}
	s, err := m.load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "hall" {
		t.Errorf("id = %q, want hall", s.ID)
	}
	if s.Meta.Name != "Hall Light" {
		t.Errorf("name = %q, want Hall Light", s.Meta.Name)
	}
	if !s.Meta.Enabled {
		t.Error("enabled = false, want true")
	}
	if !strings.HasPrefix(s.LuaCode, `bridge.on("attribute_changed"`) {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestParseScriptFileWithoutMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raw.lua")
	if err := os.WriteFile(path, []byte("bridge.toggle(2)\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: testLogger()}
	s, err := m.load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Meta.Name != "" || s.Meta.Enabled {
		t.Errorf("meta = %+v, want zero", s.Meta)
	}
	if s.LuaCode != "bridge.toggle(2)\n" {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestEncodeScript(t *testing.T) {
	content, err := encodeScript(&Script{
		ID:      "test",
		Meta:    ScriptMeta{Name: "Test", Description: "desc", Enabled: true},
		LuaCode: `bridge.log("hi")`,
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "--[[\nname: Test\ndescription: desc\nenabled: true\n]]\n\nbridge.log(\"hi\")\n"
	if string(content) != want {
		t.Errorf("encoded = %q, want %q", content, want)
	}
}

func TestLoadBrokenHeaderKeepsCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.lua")
	content := "--[[\nname: [unclosed\nenabled: true\n]]\n\nbridge.toggle(2)\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := &Manager{dir: dir, logger: testLogger()}
	s, err := m.load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Meta.Enabled {
		t.Error("script with a broken header must not be enabled")
	}
	if s.LuaCode != "bridge.toggle(2)\n" {
		t.Errorf("lua_code = %q", s.LuaCode)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Save(&Script{Meta: ScriptMeta{Name: "Tidy"}, LuaCode: "x = 1"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tidy.lua" {
		t.Errorf("dir entries = %v", entries)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Bathroom Light", "bathroom_light"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
		{"a--b", "a_b"},
		{strings.Repeat("a", 50), strings.Repeat("a", 40)},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
