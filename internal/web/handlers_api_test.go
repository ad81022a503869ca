package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"matter-bridge/internal/automation"
	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestServer(t *testing.T, apiKey string) (*Server, *bridge.Bridge) {
	t.Helper()
	logger := testLogger()
	reg := matter.NewRegistry(logger)
	clusters.RegisterAll(reg)
	br := bridge.New(bridge.NewLogStack(logger), reg, bridge.NewEventBus(logger), logger)
	t.Cleanup(br.Close)
	if err := br.Seed(bridge.DefaultSeed); err != nil {
		t.Fatal(err)
	}

	mgr, err := automation.NewManager(filepath.Join(t.TempDir(), "scripts"), logger)
	if err != nil {
		t.Fatal(err)
	}
	engine := automation.NewEngine(br, mgr, logger)
	t.Cleanup(engine.Stop)

	srv := NewServer(br, logger,
		WithAPIKey(apiKey),
		WithAllowedOrigins([]string{"http://panel.local"}),
		WithAutomation(engine, mgr),
		WithVersion("1.2.3"),
	)
	t.Cleanup(srv.Stop)
	return srv, br
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, want, w.Body.String())
	}
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestAPIListDevices(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := do(t, srv, "GET", "/api/devices", "")
	expectStatus(t, w, http.StatusOK)

	devices := decodeJSON[[]map[string]any](t, w)
	if len(devices) != 7 {
		t.Fatalf("devices = %d, want 7", len(devices))
	}
	if devices[0]["name"] != "Light 1" || devices[0]["kind"] != "light" {
		t.Errorf("first device = %v", devices[0])
	}
}

func TestAPIGetDevice(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := do(t, srv, "GET", "/api/devices/4", "")
	expectStatus(t, w, http.StatusOK)
	dev := decodeJSON[map[string]any](t, w)
	if dev["archetype"] != "temperature_sensor" {
		t.Errorf("archetype = %v", dev["archetype"])
	}

	expectStatus(t, do(t, srv, "GET", "/api/devices/99", ""), http.StatusNotFound)
	expectStatus(t, do(t, srv, "GET", "/api/devices/lamp", ""), http.StatusBadRequest)
}

func TestAPIAddDevice(t *testing.T) {
	srv, br := setupTestServer(t, "")

	w := do(t, srv, "POST", "/api/devices", `{"archetype":"door_lock","name":"Front Door","endpoint":20}`)
	expectStatus(t, w, http.StatusCreated)
	dev := decodeJSON[map[string]any](t, w)
	if dev["parent_endpoint"] != float64(matter.EndpointAggregator) {
		t.Errorf("parent = %v, want aggregator", dev["parent_endpoint"])
	}
	if _, ok := br.Device(20); !ok {
		t.Error("device 20 not registered")
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"duplicate", `{"archetype":"light","name":"x","endpoint":20}`, http.StatusConflict},
		{"reserved", `{"archetype":"light","name":"x","endpoint":1}`, http.StatusBadRequest},
		{"unknown archetype", `{"archetype":"toaster","name":"x","endpoint":30}`, http.StatusBadRequest},
		{"missing parent", `{"archetype":"composed_temperature_sensor","name":"x","endpoint":30,"parent":99}`, http.StatusNotFound},
		{"light parent", `{"archetype":"composed_temperature_sensor","name":"x","endpoint":30,"parent":2}`, http.StatusBadRequest},
		{"long name", `{"archetype":"light","name":"` + strings.Repeat("n", 33) + `","endpoint":30}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, do(t, srv, "POST", "/api/devices", tt.body), tt.want)
		})
	}
}

func TestAPIDeleteDevice(t *testing.T) {
	srv, br := setupTestServer(t, "")

	expectStatus(t, do(t, srv, "DELETE", "/api/devices/10", ""), http.StatusOK)
	if n := br.Len(); n != 4 {
		t.Errorf("devices after cascade delete = %d, want 4", n)
	}
	expectStatus(t, do(t, srv, "DELETE", "/api/devices/10", ""), http.StatusNotFound)
}

func TestAPIRenameDevice(t *testing.T) {
	srv, br := setupTestServer(t, "")

	w := do(t, srv, "PATCH", "/api/devices/2", `{"name":"Kitchen Light"}`)
	expectStatus(t, w, http.StatusOK)
	if !decodeJSON[changedResponse](t, w).Changed {
		t.Error("rename not reported as change")
	}
	d, _ := br.Device(2)
	if d.Name != "Kitchen Light" {
		t.Errorf("name = %q", d.Name)
	}

	expectStatus(t, do(t, srv, "PATCH", "/api/devices/2", `{"name":""}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "PATCH", "/api/devices/2", `{"name":"`+strings.Repeat("n", 33)+`"}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "PATCH", "/api/devices/99", `{"name":"x"}`), http.StatusNotFound)
}

func TestAPIOnOff(t *testing.T) {
	srv, br := setupTestServer(t, "")

	w := do(t, srv, "POST", "/api/devices/2/onoff", `{"on":true}`)
	expectStatus(t, w, http.StatusOK)
	if !decodeJSON[changedResponse](t, w).Changed {
		t.Error("first switch not a change")
	}
	w = do(t, srv, "POST", "/api/devices/2/onoff", `{"on":true}`)
	expectStatus(t, w, http.StatusOK)
	if decodeJSON[changedResponse](t, w).Changed {
		t.Error("repeat switch reported as change")
	}

	w = do(t, srv, "POST", "/api/devices/2/toggle", "")
	expectStatus(t, w, http.StatusOK)
	if decodeJSON[onOffRequest](t, w).On {
		t.Error("toggle left light on")
	}
	d, _ := br.Device(2)
	if d.State.(*bridge.Light).On {
		t.Error("light still on")
	}

	expectStatus(t, do(t, srv, "POST", "/api/devices/4/onoff", `{"on":true}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "POST", "/api/devices/99/toggle", ""), http.StatusNotFound)
}

func TestAPISensorReadings(t *testing.T) {
	srv, br := setupTestServer(t, "")

	expectStatus(t, do(t, srv, "POST", "/api/devices/4/temperature", `{"value":-2.5}`), http.StatusOK)
	d, _ := br.Device(4)
	if got := d.State.(*bridge.TemperatureSensor).CentiDegrees; got != -250 {
		t.Errorf("temperature = %d, want -250", got)
	}

	expectStatus(t, do(t, srv, "POST", "/api/devices/5/humidity", `{"value":45.5}`), http.StatusOK)
	d, _ = br.Device(5)
	if got := d.State.(*bridge.HumiditySensor).CentiPercent; got != 4550 {
		t.Errorf("humidity = %d, want 4550", got)
	}

	expectStatus(t, do(t, srv, "POST", "/api/devices/4/temperature", `{"value":80}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "POST", "/api/devices/5/humidity", `{"value":100.5}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "POST", "/api/devices/4/temperature", `{}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "POST", "/api/devices/5/temperature", `{"value":20}`), http.StatusBadRequest)
}

func TestAPIBatteryAndReachable(t *testing.T) {
	srv, br := setupTestServer(t, "")

	expectStatus(t, do(t, srv, "POST", "/api/devices/10/battery", `{"level":"Warning"}`), http.StatusOK)
	d, _ := br.Device(10)
	if got := d.State.(*bridge.Composed).BatteryChargeLevel; got != clusters.BatChargeLevelWarning {
		t.Errorf("battery = %d, want warning", got)
	}
	expectStatus(t, do(t, srv, "POST", "/api/devices/10/battery", `{"level":"empty"}`), http.StatusBadRequest)

	w := do(t, srv, "POST", "/api/devices/3/reachable", `{"reachable":false}`)
	expectStatus(t, w, http.StatusOK)
	if !decodeJSON[changedResponse](t, w).Changed {
		t.Error("reachability change not reported")
	}
	w = do(t, srv, "POST", "/api/devices/11/reachable", `{"reachable":false}`)
	expectStatus(t, w, http.StatusOK)
	if decodeJSON[changedResponse](t, w).Changed {
		t.Error("non-bridged child reported a reachability change")
	}
}

func TestAPIGenericAttributes(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	expectStatus(t, do(t, srv, "POST", "/api/devices", `{"archetype":"door_lock","name":"Front Door","endpoint":20}`), http.StatusCreated)

	body := `{"cluster":257,"attribute":0,"kind":"u8","value":2}`
	expectStatus(t, do(t, srv, "PUT", "/api/devices/20/attributes", body), http.StatusOK)

	w := do(t, srv, "GET", "/api/devices/20/attributes/0x0101/0", "")
	expectStatus(t, w, http.StatusOK)
	if got := strings.TrimSpace(w.Body.String()); got != `{"kind":"u8","value":2}` {
		t.Errorf("attribute = %s", got)
	}

	expectStatus(t, do(t, srv, "GET", "/api/devices/20/attributes/257/9", ""), http.StatusNotFound)
	expectStatus(t, do(t, srv, "PUT", "/api/devices/20/attributes", `{"cluster":6,"attribute":0,"kind":"bool","value":true}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "PUT", "/api/devices/20/attributes", `{"cluster":257,"attribute":0,"kind":"float","value":1}`), http.StatusBadRequest)
	expectStatus(t, do(t, srv, "PUT", "/api/devices/2/attributes", body), http.StatusBadRequest)
}

func TestAPIReadAttribute(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	w := do(t, srv, "POST", "/api/devices/4/read", `{"cluster":1026,"attribute":1}`)
	expectStatus(t, w, http.StatusOK)
	resp := decodeJSON[readAttributeResponse](t, w)
	if !resp.Handled || resp.Data != "18fc" {
		t.Errorf("min temperature read = %+v, want 18fc", resp)
	}

	w = do(t, srv, "POST", "/api/devices/4/read", `{"cluster":1026,"attribute":1,"max_len":1}`)
	expectStatus(t, w, http.StatusOK)
	if decodeJSON[readAttributeResponse](t, w).Handled {
		t.Error("read larger than max_len was handled")
	}

	w = do(t, srv, "POST", "/api/devices/99/read", `{"cluster":6,"attribute":0}`)
	expectStatus(t, w, http.StatusOK)
	if decodeJSON[readAttributeResponse](t, w).Handled {
		t.Error("read of unknown endpoint was handled")
	}
}

func TestAPIFactoryReset(t *testing.T) {
	srv, br := setupTestServer(t, "")

	w := do(t, srv, "POST", "/api/bridge/factory-reset", "")
	expectStatus(t, w, http.StatusOK)
	if got := decodeJSON[map[string]int](t, w)["removed"]; got != 7 {
		t.Errorf("removed = %d, want 7", got)
	}
	if br.Len() != 0 {
		t.Errorf("devices after reset = %d", br.Len())
	}
}

func TestAPIMetadata(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	expectStatus(t, do(t, srv, "GET", "/api/clusters", ""), http.StatusOK)

	w := do(t, srv, "GET", "/api/archetypes", "")
	expectStatus(t, w, http.StatusOK)
	if got := decodeJSON[[]string](t, w); len(got) != len(bridge.Archetypes()) {
		t.Errorf("archetypes = %v", got)
	}

	w = do(t, srv, "GET", "/api/version", "")
	expectStatus(t, w, http.StatusOK)
	if got := decodeJSON[map[string]string](t, w)["version"]; got != "1.2.3" {
		t.Errorf("version = %q", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := setupTestServer(t, "secret-key")

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"correct", "secret-key", http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "wrong-key", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/devices", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	srv, _ := setupTestServer(t, "")

	req := httptest.NewRequest("OPTIONS", "/api/devices", nil)
	req.Header.Set("Origin", "http://panel.local")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusNoContent)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest("POST", "/api/devices/2/toggle", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusForbidden)

	// Reads from foreign origins are allowed.
	req = httptest.NewRequest("GET", "/api/devices", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusOK)
}
