// Package integration forwards bridge device lifecycle and attribute data
// to an AMQP broker.
package integration

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter/clusters"
)

// Config holds the broker settings.
type Config struct {
	URL       string `yaml:"url"`
	Exchange  string `yaml:"exchange"`
	Token     string `yaml:"token"`
	QueueSize int    `yaml:"queue_size"`
}

const (
	defaultExchange  = "device"
	defaultQueueSize = 256
)

// Integration relays bridge events to the publisher from its own goroutine
// so a slow broker never stalls event delivery. Events arriving while the
// queue is full are dropped.
type Integration struct {
	br     *bridge.Bridge
	pub    *Publisher
	logger *slog.Logger
	now    func() time.Time

	queue chan bridge.Event
	unsub func()
	done  chan struct{}
	wg    sync.WaitGroup
}

// New creates the integration. pub is typically an *AMQP.
func New(br *bridge.Bridge, pub messagePublisher, cfg Config, logger *slog.Logger) *Integration {
	if cfg.Exchange == "" {
		cfg.Exchange = defaultExchange
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Integration{
		br:     br,
		pub:    NewPublisher(pub, cfg.Exchange, cfg.Token),
		logger: logger.With("component", "integration"),
		now:    time.Now,
		queue:  make(chan bridge.Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start announces the devices already present and begins relaying events.
func (in *Integration) Start() {
	in.unsub = in.br.Events().OnAll(func(ev bridge.Event) {
		select {
		case in.queue <- ev:
		default:
			in.logger.Warn("integration queue full, event dropped", "type", ev.Type)
		}
	})
	in.wg.Add(1)
	go in.run(in.br.Devices())
}

// Stop unsubscribes and waits for queued events to be published.
func (in *Integration) Stop() {
	if in.unsub != nil {
		in.unsub()
	}
	close(in.done)
	in.wg.Wait()
}

func (in *Integration) run(initial []*bridge.Device) {
	defer in.wg.Done()
	for _, d := range initial {
		in.logErr("register", d.Endpoint, in.pub.PublishDeviceRegister(d))
	}
	for {
		select {
		case ev := <-in.queue:
			in.handle(ev)
		case <-in.done:
			for {
				select {
				case ev := <-in.queue:
					in.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (in *Integration) handle(ev bridge.Event) {
	switch ev.Type {
	case bridge.EventDeviceAdded:
		if de, ok := ev.Data.(bridge.DeviceEvent); ok {
			in.logErr("register", de.Device.Endpoint, in.pub.PublishDeviceRegister(de.Device))
		}
	case bridge.EventDeviceRemoved:
		if de, ok := ev.Data.(bridge.DeviceEvent); ok {
			in.logErr("unregister", de.Device.Endpoint, in.pub.PublishDeviceUnregister(de.Device))
		}
	case bridge.EventAttributeChanged:
		change, ok := ev.Data.(bridge.AttributeChange)
		if !ok {
			return
		}
		d, ok := in.br.Device(change.Endpoint)
		if !ok {
			return
		}
		data := []Data{{
			Cluster:   change.ClusterName,
			Attribute: change.AttributeName,
			Value:     dataValue(change),
			Timestamp: in.now().UTC(),
		}}
		in.logErr("data", change.Endpoint, in.pub.PublishDeviceData(d.UniqueID, change.Endpoint, data))
	}
}

// dataValue renders a change the way downstream consumers expect: sensor
// readings in natural units, everything else as the raw value.
func dataValue(c bridge.AttributeChange) interface{} {
	switch {
	case c.Cluster == clusters.TemperatureMeasurementID && c.Attribute == clusters.TemperatureAttrMeasuredValue:
		return float64(c.Value.AsInt()) / 100
	case c.Cluster == clusters.RelativeHumidityID && c.Attribute == clusters.HumidityAttrMeasuredValue:
		return float64(c.Value.AsUint()) / 100
	}
	v := c.Value.Interface()
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("%X", b)
	}
	return v
}

func (in *Integration) logErr(what string, endpoint uint16, err error) {
	if err != nil {
		in.logger.Warn("amqp publish failed", "message", what, "endpoint", endpoint, "err", err)
	}
}
