package matter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds all known cluster definitions.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clusters: make(map[uint16]*ClusterDef),
		logger:   logger,
	}
}

// Register adds a cluster definition to the registry.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", c.ID), "name", existing.Name)
	} else {
		clone := c.DeepCopy()
		r.clusters[c.ID] = clone
		r.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", c.ID), "name", c.Name)
	}
}

// Get returns a cluster definition by ID, or nil if not found.
// The returned value is a deep copy; callers may modify it safely.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// All returns all registered cluster definitions ordered by ID.
func (r *Registry) All() []ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ClusterDef, 0, len(r.clusters))
	for _, c := range r.clusters {
		result = append(result, *c.DeepCopy())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// ClusterName returns the cluster's name, or its hex ID when unknown.
func (r *Registry) ClusterName(id uint16) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.clusters[id]; c != nil {
		return c.Name
	}
	return fmt.Sprintf("0x%04X", id)
}

// AttributeName returns the attribute's name, or its hex ID when unknown.
func (r *Registry) AttributeName(clusterID, attrID uint16) string {
	switch attrID {
	case AttrClusterRevision:
		return "ClusterRevision"
	case AttrFeatureMap:
		return "FeatureMap"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.clusters[clusterID]; c != nil {
		if a := c.FindAttribute(attrID); a != nil {
			return a.Name
		}
	}
	return fmt.Sprintf("0x%04X", attrID)
}
