package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices = []byte("devices")
	bucketBridge  = []byte("bridge")
	keyState      = []byte("state")
)

const openTimeout = 5 * time.Second

// BoltStore keeps device snapshots and the bridge identity in one bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens path, creating the file and its buckets as needed.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	if err := db.Update(createBuckets); err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func createBuckets(tx *bolt.Tx) error {
	for _, name := range [][]byte{bucketDevices, bucketBridge} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

// endpointKey is big-endian so bolt's byte ordering matches endpoint order.
func endpointKey(ep uint16) []byte {
	var k [2]byte
	binary.BigEndian.PutUint16(k[:], ep)
	return k[:]
}

func bucket(tx *bolt.Tx, name []byte) (*bolt.Bucket, error) {
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %q missing", name)
	}
	return b, nil
}

// read decodes the record under key into v, or returns ErrNotFound.
func read(b *bolt.Bucket, key []byte, v any, what string) error {
	data := b.Get(key)
	if data == nil {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err := unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

func write(b *bolt.Bucket, key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

// inDevices runs fn on the devices bucket, inside a read-write transaction
// when rw is set.
func (s *BoltStore) inDevices(rw bool, fn func(b *bolt.Bucket) error) error {
	run := s.db.View
	if rw {
		run = s.db.Update
	}
	return run(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketDevices)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.inDevices(true, func(b *bolt.Bucket) error {
		return write(b, endpointKey(dev.Endpoint), dev)
	})
}

func (s *BoltStore) GetDevice(endpoint uint16) (*Device, error) {
	dev := new(Device)
	err := s.inDevices(false, func(b *bolt.Bucket) error {
		return read(b, endpointKey(endpoint), dev, fmt.Sprintf("device %d", endpoint))
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (s *BoltStore) UpdateDevice(endpoint uint16, fn func(dev *Device) error) error {
	return s.inDevices(true, func(b *bolt.Bucket) error {
		key := endpointKey(endpoint)
		var dev Device
		if err := read(b, key, &dev, fmt.Sprintf("device %d", endpoint)); err != nil {
			return err
		}
		if err := fn(&dev); err != nil {
			return err
		}
		dev.Endpoint = endpoint
		return write(b, key, &dev)
	})
}

func (s *BoltStore) DeleteDevice(endpoint uint16) error {
	return s.inDevices(true, func(b *bolt.Bucket) error {
		return b.Delete(endpointKey(endpoint))
	})
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.inDevices(false, func(b *bolt.Bucket) error {
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			dev := new(Device)
			if err := unmarshal(v, dev); err != nil {
				return fmt.Errorf("decode device %X: %w", k, err)
			}
			devices = append(devices, dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) SaveBridgeState(state *BridgeState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketBridge)
		if err != nil {
			return err
		}
		return write(b, keyState, state)
	})
}

func (s *BoltStore) GetBridgeState() (*BridgeState, error) {
	state := new(BridgeState)
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := bucket(tx, bucketBridge)
		if err != nil {
			return err
		}
		return read(b, keyState, state, "bridge state")
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
