package bridge

import (
	"errors"
	"fmt"
	"sort"

	"matter-bridge/internal/matter"
)

var (
	ErrDuplicateEndpoint = errors.New("endpoint already in use")
	ErrEndpointNotFound  = errors.New("endpoint not found")
	ErrReservedEndpoint  = errors.New("endpoint is reserved")
	ErrParentNotFound    = errors.New("parent endpoint not found")
	ErrInvalidParent     = errors.New("invalid parent endpoint")
)

// Registry is the endpoint-ordered set of bridged devices. It is not safe
// for concurrent use; the Bridge serializes access to it.
type Registry struct {
	devices []*Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) index(ep uint16) (int, bool) {
	i := sort.Search(len(r.devices), func(i int) bool { return r.devices[i].Endpoint >= ep })
	return i, i < len(r.devices) && r.devices[i].Endpoint == ep
}

// Insert adds d, keeping ascending endpoint order. A child's parent must be
// the aggregator or an existing Composed device; a Composed device may only
// hang off the aggregator.
func (r *Registry) Insert(d *Device) error {
	if err := r.checkInsert(d); err != nil {
		return err
	}
	i, _ := r.index(d.Endpoint)
	r.devices = append(r.devices, nil)
	copy(r.devices[i+1:], r.devices[i:])
	r.devices[i] = d
	return nil
}

func (r *Registry) checkInsert(d *Device) error {
	if d.Endpoint == matter.EndpointRoot || d.Endpoint == matter.EndpointAggregator {
		return fmt.Errorf("endpoint %d: %w", d.Endpoint, ErrReservedEndpoint)
	}
	if _, found := r.index(d.Endpoint); found {
		return fmt.Errorf("endpoint %d: %w", d.Endpoint, ErrDuplicateEndpoint)
	}
	return r.checkParent(d)
}

func (r *Registry) checkParent(d *Device) error {
	if d.ParentEndpoint == matter.EndpointAggregator {
		return nil
	}
	if _, composed := d.State.(*Composed); composed {
		return fmt.Errorf("composed device %d under %d: %w", d.Endpoint, d.ParentEndpoint, ErrInvalidParent)
	}
	if d.ParentEndpoint == matter.EndpointRoot || d.ParentEndpoint == d.Endpoint {
		return fmt.Errorf("device %d under %d: %w", d.Endpoint, d.ParentEndpoint, ErrInvalidParent)
	}
	parent, ok := r.Find(d.ParentEndpoint)
	if !ok {
		return fmt.Errorf("device %d under %d: %w", d.Endpoint, d.ParentEndpoint, ErrParentNotFound)
	}
	if _, composed := parent.State.(*Composed); !composed {
		return fmt.Errorf("device %d under %s %d: %w", d.Endpoint, parent.Kind(), d.ParentEndpoint, ErrInvalidParent)
	}
	return nil
}

// Remove drops the device on ep and returns it.
func (r *Registry) Remove(ep uint16) (*Device, error) {
	i, found := r.index(ep)
	if !found {
		return nil, fmt.Errorf("endpoint %d: %w", ep, ErrEndpointNotFound)
	}
	d := r.devices[i]
	copy(r.devices[i:], r.devices[i+1:])
	r.devices[len(r.devices)-1] = nil
	r.devices = r.devices[:len(r.devices)-1]
	return d, nil
}

// Find returns the live device on ep.
func (r *Registry) Find(ep uint16) (*Device, bool) {
	i, found := r.index(ep)
	if !found {
		return nil, false
	}
	return r.devices[i], true
}

// SetReachable updates the reachability flag and reports whether it
// changed. Devices that are not bridged nodes never change.
func (r *Registry) SetReachable(ep uint16, reachable bool) (bool, error) {
	d, ok := r.Find(ep)
	if !ok {
		return false, fmt.Errorf("endpoint %d: %w", ep, ErrEndpointNotFound)
	}
	if !d.BridgedNode || d.Reachable == reachable {
		return false, nil
	}
	d.Reachable = reachable
	return true, nil
}

// Children returns the devices whose parent is ep, in endpoint order.
func (r *Registry) Children(ep uint16) []*Device {
	var out []*Device
	for _, d := range r.devices {
		if d.ParentEndpoint == ep && d.Endpoint != ep {
			out = append(out, d)
		}
	}
	return out
}

// All returns the devices in ascending endpoint order.
func (r *Registry) All() []*Device {
	return append([]*Device(nil), r.devices...)
}

func (r *Registry) Len() int { return len(r.devices) }
