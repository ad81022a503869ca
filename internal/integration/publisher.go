package integration

import (
	"time"

	"matter-bridge/internal/bridge"
)

const (
	routingKeyRegister   = "device.register"
	routingKeyUnregister = "device.unregister"
	routingKeyDataSent   = "data.sent"

	defaultExpirationTime = "2000"
)

// DeviceRegisterRequest announces a bridged device.
type DeviceRegisterRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Endpoint  uint16 `json:"endpoint"`
	Parent    uint16 `json:"parent_endpoint"`
	Archetype string `json:"archetype"`
}

// DeviceUnregisterRequest withdraws a device.
type DeviceUnregisterRequest struct {
	ID string `json:"id"`
}

// Data is one attribute reading.
type Data struct {
	Cluster   string      `json:"cluster"`
	Attribute string      `json:"attribute"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// DataSent carries readings for one device.
type DataSent struct {
	ID       string `json:"id"`
	Endpoint uint16 `json:"endpoint"`
	Data     []Data `json:"data"`
}

// messagePublisher is implemented by *AMQP.
type messagePublisher interface {
	PublishPersistentMessage(exchange, exchangeType, key string, data interface{}, options *MessageOptions) error
}

// Publisher sends device lifecycle and data messages.
type Publisher struct {
	pub      messagePublisher
	exchange string
	token    string
}

// NewPublisher constructs a publisher on exchange. token is sent as the
// Authorization header.
func NewPublisher(pub messagePublisher, exchange, token string) *Publisher {
	return &Publisher{pub: pub, exchange: exchange, token: token}
}

func (p *Publisher) options() *MessageOptions {
	return &MessageOptions{Authorization: p.token, Expiration: defaultExpirationTime}
}

func (p *Publisher) PublishDeviceRegister(d *bridge.Device) error {
	msg := DeviceRegisterRequest{
		ID:        d.UniqueID,
		Name:      d.Name,
		Endpoint:  d.Endpoint,
		Parent:    d.ParentEndpoint,
		Archetype: string(d.Archetype),
	}
	return p.pub.PublishPersistentMessage(p.exchange, exchangeTypeDirect, routingKeyRegister, msg, p.options())
}

func (p *Publisher) PublishDeviceUnregister(d *bridge.Device) error {
	return p.pub.PublishPersistentMessage(p.exchange, exchangeTypeDirect, routingKeyUnregister,
		DeviceUnregisterRequest{ID: d.UniqueID}, p.options())
}

func (p *Publisher) PublishDeviceData(id string, endpoint uint16, data []Data) error {
	msg := DataSent{ID: id, Endpoint: endpoint, Data: data}
	return p.pub.PublishPersistentMessage(p.exchange, exchangeTypeFanout, routingKeyDataSent, msg, p.options())
}
