package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Device operations
	SaveDevice(dev *Device) error
	GetDevice(endpoint uint16) (*Device, error)
	DeleteDevice(endpoint uint16) error
	// ListDevices returns devices ordered by endpoint.
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(endpoint uint16, fn func(dev *Device) error) error

	// Bridge identity
	SaveBridgeState(state *BridgeState) error
	GetBridgeState() (*BridgeState, error)

	// Close the store
	Close() error
}

// LoadOrCreateBridgeState returns the persisted bridge identity, creating
// and saving a new one on first start.
func LoadOrCreateBridgeState(s Store) (*BridgeState, error) {
	state, err := s.GetBridgeState()
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	state = &BridgeState{
		InstanceID: uuid.NewString(),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	if err := s.SaveBridgeState(state); err != nil {
		return nil, fmt.Errorf("save bridge state: %w", err)
	}
	return state, nil
}
