package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/streadway/amqp"
)

const (
	exchangeTypeDirect = "direct"
	exchangeTypeFanout = "fanout"
)

var ErrNotConnected = errors.New("amqp: not connected")

// MessageOptions represents the message publishing options.
type MessageOptions struct {
	Authorization string
	CorrelationID string
	Expiration    string
}

// AMQP handles the broker connection and the exchanges declared on it.
type AMQP struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAMQP constructs the connection handler. Nothing is dialed until Start.
func NewAMQP(url string, logger *slog.Logger) *AMQP {
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQP{url: url, logger: logger, ctx: ctx, cancel: cancel}
}

// Start dials the broker, retrying with exponential backoff until ctx is
// done, and keeps the connection alive afterwards.
func (a *AMQP) Start(ctx context.Context) error {
	if err := backoff.Retry(a.connect, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return fmt.Errorf("amqp connect: %w", err)
	}
	go a.notifyWhenClosed()
	return nil
}

// Stop closes the channel and the connection.
func (a *AMQP) Stop() {
	a.cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channel != nil {
		a.channel.Close()
		a.channel = nil
	}
	if a.conn != nil && !a.conn.IsClosed() {
		a.conn.Close()
	}
}

func (a *AMQP) connect() error {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		a.logger.Warn("amqp dial failed", "err", err)
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	a.mu.Lock()
	a.conn = conn
	a.channel = channel
	a.mu.Unlock()
	a.logger.Info("amqp connected")
	return nil
}

func (a *AMQP) notifyWhenClosed() {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	reason := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if reason == nil {
		// Closed by Stop.
		return
	}
	a.logger.Warn("amqp connection closed", "reason", reason)
	a.mu.Lock()
	a.channel = nil
	a.mu.Unlock()

	if err := backoff.Retry(a.connect, backoff.WithContext(backoff.NewExponentialBackOff(), a.ctx)); err != nil {
		a.logger.Error("amqp reconnect abandoned", "err", err)
		return
	}
	go a.notifyWhenClosed()
}

// PublishPersistentMessage encodes data as JSON and publishes it as a
// persistent message.
func (a *AMQP) PublishPersistentMessage(exchange, exchangeType, key string, data interface{}, options *MessageOptions) error {
	var headers amqp.Table
	var corrID, expTime string
	if options != nil {
		headers = amqp.Table{"Authorization": options.Authorization}
		corrID = options.CorrelationID
		expTime = options.Expiration
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	a.mu.Lock()
	channel := a.channel
	a.mu.Unlock()
	if channel == nil {
		return ErrNotConnected
	}

	if err := channel.ExchangeDeclare(
		exchange,
		exchangeType,
		true,  // durable
		false, // delete when complete
		false, // internal
		false, // noWait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	err = channel.Publish(
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:       headers,
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: corrID,
			Body:          body,
			Expiration:    expTime,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}
