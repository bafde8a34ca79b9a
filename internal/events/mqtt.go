package events

import (
	"context"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures the MQTT publisher.
type MQTTOptions struct {
	Broker   string
	ClientID string
	QoS      byte
}

// MQTTPublisher publishes through a Paho client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

// NewMQTTPublisher connects to opts.Broker. The client reconnects on its
// own after the first successful connection.
func NewMQTTPublisher(opts MQTTOptions) (*MQTTPublisher, error) {
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid MQTT QoS %d", opts.QoS)
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Printf("[EVENTS] MQTT connection lost: %v", err)
		})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", opts.Broker, err)
	}

	log.Printf("[EVENTS] Connected to MQTT broker %s", opts.Broker)
	return &MQTTPublisher{client: client, qos: opts.QoS}, nil
}

// Publish waits for delivery or for ctx to end, whichever comes first.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
