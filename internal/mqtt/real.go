package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/garage-door-monitor/internal/logic"
)

// outboxCapacity bounds how many messages are held while disconnected.
const outboxCapacity = 100

// RealPublisher publishes to an actual MQTT broker.
// Messages published while the broker is unreachable are queued and sent
// once the connection is (re-)established.
type RealPublisher struct {
	client paho.Client

	mu        sync.Mutex
	outbox    *outbox
	connected bool // set after the first successful connection
}

// NewRealPublisher creates a publisher for the given broker. The broker is
// given 10 seconds to accept the first connection; after that the publisher
// keeps retrying in the background and queues messages meanwhile.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{outbox: newOutbox(outboxCapacity)}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, errors.Wrap(err, "format will payload")
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logrus.WithError(err).Warn("mqtt: connection lost")
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		logrus.WithField("broker", broker).Warn("mqtt: broker not reachable yet, queueing until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connect to broker %s", broker)
	}
	return p, nil
}

// onConnect runs on every successful (re)connection in its own goroutine.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	queued := p.outbox.drainAll()
	p.mu.Unlock()

	logrus.WithFields(logrus.Fields{"reconnect": reconnect, "queued": len(queued)}).Info("mqtt: connected")

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			logrus.WithError(err).Warn("mqtt: publish reconnected event")
		}
	}
	for _, m := range queued {
		if err := p.send(m); err != nil {
			logrus.WithError(err).WithField("topic", m.topic).Warn("mqtt: replay queued message")
		}
	}
}

// Publish sends a door state change to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return errors.Wrap(err, "format payload")
	}
	// QoS 1, retained: the latest door state is what subscribers want.
	return p.publish(bufferedMsg{topic: Topic, payload: payload, qos: 1, retained: true})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return errors.Wrap(err, "format system payload")
	}
	return p.publish(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.outbox.push(m)
		p.mu.Unlock()
		return nil
	}
	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.Errorf("publish to %s timeout", m.topic)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "publish to %s", m.topic)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
