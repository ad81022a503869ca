package bridge

import (
	"fmt"

	"matter-bridge/internal/matter"
)

// SeedEntry describes one device created at first start.
type SeedEntry struct {
	Archetype Archetype
	Name      string
	Endpoint  uint16
	Parent    uint16
}

// DefaultSeed is the full demonstration device set.
var DefaultSeed = []SeedEntry{
	{ArchetypeLight, "Light 1", 2, matter.EndpointAggregator},
	{ArchetypeLight, "Light 2", 3, matter.EndpointAggregator},
	{ArchetypeTemperatureSensor, "Temp Sensor 1", 4, matter.EndpointAggregator},
	{ArchetypeHumiditySensor, "Humidity Sensor 1", 5, matter.EndpointAggregator},
	{ArchetypeComposed, "Composed Device", 10, matter.EndpointAggregator},
	{ArchetypeComposedTemperature, "Composed Temp Sensor", 11, 10},
	{ArchetypeComposedHumidity, "Composed Humidity Sensor", 12, 10},
}

// MinimalSeed is a light and a temperature sensor.
var MinimalSeed = []SeedEntry{
	{ArchetypeLight, "Light 1", 2, matter.EndpointAggregator},
	{ArchetypeTemperatureSensor, "Temperature Sensor 1", 4, matter.EndpointAggregator},
}

// SeedByName resolves a configured seed set: "default", "minimal" or "none".
func SeedByName(name string) ([]SeedEntry, error) {
	switch name {
	case "", "default":
		return DefaultSeed, nil
	case "minimal":
		return MinimalSeed, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown seed set %q", name)
}

// Seed creates and inserts every entry in order. It must run before the
// stack link and user interfaces start issuing requests.
func (b *Bridge) Seed(entries []SeedEntry) error {
	for _, e := range entries {
		if _, err := b.AddDevice(e.Archetype, e.Name, e.Endpoint, e.Parent); err != nil {
			return fmt.Errorf("seed %q on endpoint %d: %w", e.Name, e.Endpoint, err)
		}
	}
	b.logger.Info("registry seeded", "devices", len(entries))
	return nil
}
