package bridge

import (
	"fmt"
	"log/slog"

	"matter-bridge/internal/matter"
)

// Registration is the descriptor set announced for one endpoint.
type Registration struct {
	Endpoint       uint16                       `json:"endpoint"`
	ParentEndpoint uint16                       `json:"parent_endpoint"`
	Name           string                       `json:"name"`
	Clusters       []uint16                     `json:"clusters"`
	Attributes     []matter.AttributeDescriptor `json:"attributes"`
	DeviceTypes    []uint32                     `json:"device_types"`
}

// Stack is the protocol stack the bridge exposes its devices through.
// Implementations must not block and must not call back into the Bridge
// synchronously.
type Stack interface {
	RegisterDevice(reg Registration) error
	DeregisterDevice(endpoint uint16) error
	// UpdateAttribute pushes a locally originated value to subscribers.
	UpdateAttribute(endpoint, clusterID, attrID uint16, data []byte) error
	// ReportAttributeChanged marks an attribute dirty after a handled write
	// or command so the stack re-reads and reports it.
	ReportAttributeChanged(endpoint, clusterID, attrID uint16)
}

// LogStack is a Stack that only logs. It stands in when no stack link is
// configured.
type LogStack struct {
	logger *slog.Logger
}

func NewLogStack(logger *slog.Logger) *LogStack {
	return &LogStack{logger: logger.With("component", "stack")}
}

func (s *LogStack) RegisterDevice(reg Registration) error {
	s.logger.Debug("register device", "endpoint", reg.Endpoint, "parent", reg.ParentEndpoint, "name", reg.Name, "clusters", len(reg.Clusters))
	return nil
}

func (s *LogStack) DeregisterDevice(endpoint uint16) error {
	s.logger.Debug("deregister device", "endpoint", endpoint)
	return nil
}

func (s *LogStack) UpdateAttribute(endpoint, clusterID, attrID uint16, data []byte) error {
	s.logger.Debug("update attribute", "endpoint", endpoint,
		"cluster", fmt.Sprintf("0x%04X", clusterID), "attr", fmt.Sprintf("0x%04X", attrID), "data", fmt.Sprintf("%X", data))
	return nil
}

func (s *LogStack) ReportAttributeChanged(endpoint, clusterID, attrID uint16) {
	s.logger.Debug("report attribute changed", "endpoint", endpoint,
		"cluster", fmt.Sprintf("0x%04X", clusterID), "attr", fmt.Sprintf("0x%04X", attrID))
}
