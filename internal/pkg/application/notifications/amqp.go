package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routingKey"`
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type amqpChannel struct {
	cfg AMQPConfig

	mu      sync.Mutex
	conn    *amqp.Connection
	channel publisher
	dial    func() (publisher, error)
}

// NewAMQPChannel publishes notifications on a topic exchange. The broker is
// dialled on first use and again after the connection is lost.
func NewAMQPChannel(cfg AMQPConfig) (Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "iot-fleet-sync"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "device.notification"
	}

	a := &amqpChannel{cfg: cfg}
	a.dial = a.connect

	return a, nil
}

func (a *amqpChannel) Name() string {
	return "amqp"
}

func (a *amqpChannel) connect() (publisher, error) {
	if a.conn != nil && !a.conn.IsClosed() {
		a.conn.Close()
	}

	conn, err := amqp.Dial(a.cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	err = ch.ExchangeDeclare(a.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}

	a.conn = conn

	return ch, nil
}

func (a *amqpChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.channel == nil || (a.conn != nil && a.conn.IsClosed()) {
		a.channel, err = a.dial()
		if err != nil {
			a.channel = nil
			return err
		}
	}

	return a.channel.PublishWithContext(ctx, a.cfg.Exchange, a.cfg.RoutingKey+"."+msg.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Type:         msg.Type,
		Body:         body,
	})
}
