package web

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"matter-bridge/internal/automation"
	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrEndpointNotFound),
		errors.Is(err, bridge.ErrParentNotFound),
		errors.Is(err, automation.ErrScriptNotFound):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrDuplicateEndpoint):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, bridge.ErrReservedEndpoint),
		errors.Is(err, bridge.ErrInvalidParent),
		errors.Is(err, bridge.ErrUnsupportedArchetype),
		errors.Is(err, bridge.ErrNameTooLong),
		errors.Is(err, bridge.ErrInvalidName),
		errors.Is(err, bridge.ErrKindMismatch),
		errors.Is(err, bridge.ErrUndeclaredCluster),
		errors.Is(err, matter.ErrUnsupportedValueKind),
		errors.Is(err, automation.ErrInvalidScriptID):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op, "err", err)
		s.writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", errBadRequest)
	}
	return nil
}

func parseUint16(raw, what string) (uint16, error) {
	n, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", what, raw, errBadRequest)
	}
	return uint16(n), nil
}

func pathEndpoint(r *http.Request) (uint16, error) {
	return parseUint16(r.PathValue("ep"), "endpoint")
}

// centi scales a decimal reading by 100 and checks it against [lo, hi].
func centi(v float64, lo, hi int) (int, error) {
	c := math.Round(v * 100)
	if c < float64(lo) || c > float64(hi) {
		return 0, fmt.Errorf("%g out of range [%g, %g]: %w", v, float64(lo)/100, float64(hi)/100, errBadRequest)
	}
	return int(c), nil
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bridge.Devices())
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "get device", err)
		return
	}
	dev, ok := s.bridge.Device(ep)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

type addDeviceRequest struct {
	Archetype bridge.Archetype `json:"archetype"`
	Name      string           `json:"name"`
	Endpoint  uint16           `json:"endpoint"`
	Parent    uint16           `json:"parent"`
}

func (s *Server) handleAPIAddDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "add device", err)
		return
	}
	if req.Parent == 0 {
		req.Parent = matter.EndpointAggregator
	}
	dev, err := s.bridge.AddDevice(req.Archetype, req.Name, req.Endpoint, req.Parent)
	if err != nil {
		s.writeError(w, "add device", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, dev)
}

type renameDeviceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "rename device", err)
		return
	}
	var req renameDeviceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "rename device", err)
		return
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	changed, err := s.bridge.Rename(ep, req.Name)
	if err != nil {
		s.writeError(w, "rename device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, changedResponse{changed})
}

func (s *Server) handleAPIDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "delete device", err)
		return
	}
	if err := s.bridge.RemoveDevice(ep); err != nil {
		s.writeError(w, "delete device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type onOffRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleAPISetOnOff(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "set on/off", err)
		return
	}
	var req onOffRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "set on/off", err)
		return
	}
	changed, err := s.bridge.SetOnOff(ep, req.On)
	if err != nil {
		s.writeError(w, "set on/off", err)
		return
	}
	s.writeJSON(w, http.StatusOK, changedResponse{changed})
}

func (s *Server) handleAPIToggle(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "toggle", err)
		return
	}
	on, err := s.bridge.ToggleOnOff(ep)
	if err != nil {
		s.writeError(w, "toggle", err)
		return
	}
	s.writeJSON(w, http.StatusOK, onOffRequest{On: on})
}

// readingRequest carries a decimal reading: degrees Celsius or percent.
type readingRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) decodeReading(w http.ResponseWriter, r *http.Request, lo, hi int) (uint16, int, error) {
	ep, err := pathEndpoint(r)
	if err != nil {
		return 0, 0, err
	}
	var req readingRequest
	if err := decodeBody(w, r, &req); err != nil {
		return 0, 0, err
	}
	if req.Value == nil {
		return 0, 0, fmt.Errorf("value is required: %w", errBadRequest)
	}
	c, err := centi(*req.Value, lo, hi)
	return ep, c, err
}

func (s *Server) handleAPISetTemperature(w http.ResponseWriter, r *http.Request) {
	ep, c, err := s.decodeReading(w, r, int(clusters.TemperatureMinCentiDegrees), int(clusters.TemperatureMaxCentiDegrees))
	if err != nil {
		s.writeError(w, "set temperature", err)
		return
	}
	changed, err := s.bridge.SetTemperature(ep, int16(c))
	if err != nil {
		s.writeError(w, "set temperature", err)
		return
	}
	s.writeJSON(w, http.StatusOK, changedResponse{changed})
}

func (s *Server) handleAPISetHumidity(w http.ResponseWriter, r *http.Request) {
	ep, c, err := s.decodeReading(w, r, int(clusters.HumidityMinCentiPercent), int(clusters.HumidityMaxCentiPercent))
	if err != nil {
		s.writeError(w, "set humidity", err)
		return
	}
	changed, err := s.bridge.SetHumidity(ep, uint16(c))
	if err != nil {
		s.writeError(w, "set humidity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, changedResponse{changed})
}

type batteryRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleAPISetBattery(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "set battery", err)
		return
	}
	var req batteryRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "set battery", err)
		return
	}
	level, ok := clusters.ParseBatChargeLevel(req.Level)
	if !ok {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "level must be ok, warning or critical"})
		return
	}
	changed, err := s.bridge.SetBatteryChargeLevel(ep, level)
	if err != nil {
		s.writeError(w, "set battery", err)
		return
	}
	s.writeJSON(w, http.StatusOK, changedResponse{changed})
}

type reachableRequest struct {
	Reachable bool `json:"reachable"`
}

func (s *Server) handleAPISetReachable(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "set reachable", err)
		return
	}
	var req reachableRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "set reachable", err)
		return
	}
	changed, err := s.bridge.SetReachable(ep, req.Reachable)
	if err != nil {
		s.writeError(w, "set reachable", err)
		return
	}
	s.writeJSON(w, http.StatusOK, changedResponse{changed})
}

type updateAttributeRequest struct {
	Cluster   uint16 `json:"cluster"`
	Attribute uint16 `json:"attribute"`
	Kind      string `json:"kind"`
	Value     any    `json:"value"`
}

func (s *Server) handleAPIUpdateAttribute(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "update attribute", err)
		return
	}
	var req updateAttributeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "update attribute", err)
		return
	}
	kind, err := matter.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, "update attribute", err)
		return
	}
	v, err := matter.Coerce(kind, req.Value)
	if err != nil {
		s.writeError(w, "update attribute", err)
		return
	}
	changed, err := s.bridge.UpdateAttribute(ep, req.Cluster, req.Attribute, v)
	if err != nil {
		s.writeError(w, "update attribute", err)
		return
	}
	s.writeJSON(w, http.StatusOK, changedResponse{changed})
}

func (s *Server) handleAPIGetAttribute(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "get attribute", err)
		return
	}
	clusterID, err := parseUint16(r.PathValue("cluster"), "cluster")
	if err != nil {
		s.writeError(w, "get attribute", err)
		return
	}
	attrID, err := parseUint16(r.PathValue("attr"), "attribute")
	if err != nil {
		s.writeError(w, "get attribute", err)
		return
	}
	v, ok := s.bridge.GetAttribute(ep, clusterID, attrID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "attribute not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

type readAttributeRequest struct {
	Cluster   uint16 `json:"cluster"`
	Attribute uint16 `json:"attribute"`
	MaxLen    *int   `json:"max_len,omitempty"`
}

type readAttributeResponse struct {
	Handled bool   `json:"handled"`
	Data    string `json:"data,omitempty"`
}

// handleAPIReadAttribute answers the way the stack would see a read: the
// raw wire bytes, hex encoded.
func (s *Server) handleAPIReadAttribute(w http.ResponseWriter, r *http.Request) {
	ep, err := pathEndpoint(r)
	if err != nil {
		s.writeError(w, "read attribute", err)
		return
	}
	var req readAttributeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, "read attribute", err)
		return
	}
	maxLen := bridge.UnboundedRead
	if req.MaxLen != nil {
		maxLen = *req.MaxLen
	}
	data, ok := s.bridge.Read(ep, req.Cluster, req.Attribute, maxLen)
	resp := readAttributeResponse{Handled: ok}
	if ok {
		resp.Data = hex.EncodeToString(data)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIFactoryReset(w http.ResponseWriter, r *http.Request) {
	removed, err := s.bridge.FactoryReset()
	if err != nil {
		s.writeError(w, "factory reset", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleAPIListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bridge.Clusters().All())
}

func (s *Server) handleAPIListArchetypes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, bridge.Archetypes())
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
