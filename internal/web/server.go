package web

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"matter-bridge/internal/automation"
	"matter-bridge/internal/bridge"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey requires the X-API-Key header on every /api/ request.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

// WithAllowedOrigins sets the origins accepted for CORS and WebSocket upgrades.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithAutomation exposes the script manager and engine under /api/automations.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the string reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// Server is the HTTP and WebSocket front end of the bridge.
type Server struct {
	bridge         *bridge.Bridge
	feed           *eventFeed
	logger         *slog.Logger
	handler        http.Handler
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	unsubscribe    func()
}

// NewServer builds the route table and starts relaying bridge events to
// WebSocket clients.
func NewServer(br *bridge.Bridge, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		bridge: br,
		logger: logger.With("component", "web"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.feed = newEventFeed(s.logger)
	s.unsubscribe = br.Events().OnAll(func(ev bridge.Event) {
		s.feed.publish(ev)
	})

	var h http.Handler = s.routes()
	if s.apiKey != "" {
		h = s.requireAPIKey(h)
	}
	if len(s.allowedOrigins) > 0 {
		h = s.checkOrigin(h)
	}
	s.handler = h
	return s
}

// Stop detaches from the event bus and disconnects WebSocket clients.
func (s *Server) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.feed.close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	mux.HandleFunc("POST /api/devices", s.handleAPIAddDevice)
	mux.HandleFunc("GET /api/devices/{ep}", s.handleAPIGetDevice)
	mux.HandleFunc("PATCH /api/devices/{ep}", s.handleAPIRenameDevice)
	mux.HandleFunc("DELETE /api/devices/{ep}", s.handleAPIDeleteDevice)
	mux.HandleFunc("POST /api/devices/{ep}/onoff", s.handleAPISetOnOff)
	mux.HandleFunc("POST /api/devices/{ep}/toggle", s.handleAPIToggle)
	mux.HandleFunc("POST /api/devices/{ep}/temperature", s.handleAPISetTemperature)
	mux.HandleFunc("POST /api/devices/{ep}/humidity", s.handleAPISetHumidity)
	mux.HandleFunc("POST /api/devices/{ep}/battery", s.handleAPISetBattery)
	mux.HandleFunc("POST /api/devices/{ep}/reachable", s.handleAPISetReachable)
	mux.HandleFunc("PUT /api/devices/{ep}/attributes", s.handleAPIUpdateAttribute)
	mux.HandleFunc("GET /api/devices/{ep}/attributes/{cluster}/{attr}", s.handleAPIGetAttribute)
	mux.HandleFunc("POST /api/devices/{ep}/read", s.handleAPIReadAttribute)

	mux.HandleFunc("POST /api/bridge/factory-reset", s.handleAPIFactoryReset)
	mux.HandleFunc("GET /api/clusters", s.handleAPIListClusters)
	mux.HandleFunc("GET /api/archetypes", s.handleAPIListArchetypes)
	mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// requireAPIKey guards /api/. Browsers cannot set headers on a WebSocket
// upgrade, so /ws relies on the origin check instead.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	want := []byte(s.apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), want) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin answers CORS preflights and rejects mutating requests from
// origins outside the allow list. Requests without an Origin header pass.
func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		if !s.originAllowed(origin) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			h.Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
