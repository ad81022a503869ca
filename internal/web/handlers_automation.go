package web

import (
	"net/http"

	"matter-bridge/internal/automation"
)

// inlineScriptID runs the request body's lua_code instead of a stored script.
const inlineScriptID = "_inline"

type automationView struct {
	*automation.Script
	Running bool `json:"running"`
}

// scriptPatch carries the fields a client wants to set. Absent fields keep
// their stored value.
type scriptPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LuaCode     *string `json:"lua_code"`
	Enabled     *bool   `json:"enabled"`
}

func (p scriptPatch) apply(sc *automation.Script) {
	if p.Name != nil && *p.Name != "" {
		sc.Meta.Name = *p.Name
	}
	if p.Description != nil {
		sc.Meta.Description = *p.Description
	}
	if p.LuaCode != nil {
		sc.LuaCode = *p.LuaCode
	}
	if p.Enabled != nil {
		sc.Meta.Enabled = *p.Enabled
	}
}

func (s *Server) requireScripts(w http.ResponseWriter) bool {
	if s.scriptMgr != nil {
		return true
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "automations not available"})
	return false
}

func (s *Server) view(sc *automation.Script) automationView {
	v := automationView{Script: sc}
	if s.autoEngine == nil {
		return v
	}
	for _, id := range s.autoEngine.Running() {
		if id == sc.ID {
			v.Running = true
			break
		}
	}
	return v
}

// syncEngine starts or stops the saved script to match its enabled flag.
func (s *Server) syncEngine(sc *automation.Script) {
	if s.autoEngine == nil {
		return
	}
	if !sc.Meta.Enabled {
		s.autoEngine.StopScript(sc.ID)
		return
	}
	if err := s.autoEngine.ReloadScript(sc.ID); err != nil {
		s.logger.Error("reload script", "id", sc.ID, "err", err)
	}
}

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	out := []automationView{}
	if s.scriptMgr != nil {
		scripts, err := s.scriptMgr.List()
		if err != nil {
			s.writeError(w, "list scripts", err)
			return
		}
		for _, sc := range scripts {
			out = append(out, s.view(sc))
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.requireScripts(w) {
		return
	}
	sc, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, "get script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(sc))
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.requireScripts(w) {
		return
	}
	var patch scriptPatch
	if err := decodeBody(w, r, &patch); err != nil {
		s.writeError(w, "create script", err)
		return
	}
	if patch.Name == nil || *patch.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	sc := &automation.Script{}
	patch.apply(sc)
	saved, err := s.scriptMgr.Save(sc)
	if err != nil {
		s.writeError(w, "create script", err)
		return
	}
	s.syncEngine(saved)
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	s.editScript(w, r, "update script", func(sc *automation.Script) error {
		var patch scriptPatch
		if err := decodeBody(w, r, &patch); err != nil {
			return err
		}
		patch.apply(sc)
		return nil
	})
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	s.editScript(w, r, "toggle script", func(sc *automation.Script) error {
		sc.Meta.Enabled = !sc.Meta.Enabled
		return nil
	})
}

// editScript loads the script named in the path, applies edit, saves it and
// brings the engine in line.
func (s *Server) editScript(w http.ResponseWriter, r *http.Request, op string, edit func(*automation.Script) error) {
	if !s.requireScripts(w) {
		return
	}
	sc, err := s.scriptMgr.Get(r.PathValue("id"))
	if err == nil {
		err = edit(sc)
	}
	if err == nil {
		sc, err = s.scriptMgr.Save(sc)
	}
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	s.syncEngine(sc)
	s.writeJSON(w, http.StatusOK, sc)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if !s.requireScripts(w) {
		return
	}
	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	if err := s.scriptMgr.Delete(id); err != nil {
		s.writeError(w, "delete script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "automation engine not available"})
		return
	}
	id := r.PathValue("id")
	if id != inlineScriptID {
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
		return
	}
	var req struct {
		LuaCode string `json:"lua_code"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "run inline script", err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
}
