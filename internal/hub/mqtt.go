package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTTransport subscribes to the event as a topic on an MQTT broker. The
// access token is presented as the MQTT password.
type MQTTTransport struct {
	ClientIDPrefix string
	Logger         *slog.Logger
	ConnectTimeout time.Duration
	QoS            byte
}

func NewMQTTTransport(clientIDPrefix string, logger *slog.Logger) *MQTTTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTTransport{
		ClientIDPrefix: clientIDPrefix,
		Logger:         logger,
		ConnectTimeout: 10 * time.Second,
		QoS:            1, // At least once delivery
	}
}

// brokerURL maps the negotiated URL to the form paho expects.
func brokerURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "mqtt":
		scheme = "tcp"
	case "mqtts", "tls":
		scheme = "ssl"
	}
	b := url.URL{Scheme: scheme, Host: u.Host, Path: u.Path}
	return b.String()
}

func (t *MQTTTransport) Connect(ctx context.Context, d Dial, deliver DeliverFunc) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	broker := brokerURL(u)
	topic := d.Event
	username := u.User.Username()

	c := &mqttConn{topic: topic, logger: t.Logger, done: make(chan struct{})}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(t.ClientIDPrefix + "-" + uuid.NewString())

	// Session settings
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	// One attempt per session; reconnecting is the caller's decision.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(t.ConnectTimeout)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetCredentialsProvider(func() (string, string) {
		token, err := d.Token()
		if err != nil {
			t.Logger.Warn("mqtt access token unavailable", "error", err)
			return username, ""
		}
		return username, token
	})

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		t.Logger.Info("mqtt connected", "broker", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.Logger.Warn("mqtt connection lost", "error", err)
		c.finish(err)
	})

	client := mqtt.NewClient(opts)
	c.client = client

	token := client.Connect()
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			client.Disconnect(0)
			return nil, ctx.Err()
		default:
		}
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	sub := client.Subscribe(topic, t.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		deliver(msg.Payload())
	})
	if !sub.WaitTimeout(5 * time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := sub.Error(); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	t.Logger.Info("subscribed to mqtt topic", "topic", topic, "qos", t.QoS)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	return c, nil
}

type mqttConn struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger

	closing    atomic.Bool
	finishOnce sync.Once
	done       chan struct{}
	err        error
}

func (c *mqttConn) Done() <-chan struct{} { return c.done }

func (c *mqttConn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close unsubscribes and disconnects. Idempotent and safe to call multiple times.
func (c *mqttConn) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		<-c.done
		return nil
	}
	if c.client.IsConnected() {
		token := c.client.Unsubscribe(c.topic)
		token.WaitTimeout(2 * time.Second)
	}
	c.client.Disconnect(250)
	c.logger.Info("mqtt disconnected")
	c.finish(nil)
	return nil
}

func (c *mqttConn) finish(err error) {
	c.finishOnce.Do(func() {
		if c.closing.Load() {
			err = nil
		}
		c.err = err
		close(c.done)
	})
}
