package mqtt

import (
	"context"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/MrSnakeDoc/switchboard/internal/reconnect"
)

// MessageHandler receives every message delivered on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// NewDialer returns a reconnect.Dialer building paho clients from opts. paho's
// own reconnect logic is disabled; reconnects are driven by reconnect.Client.
func NewDialer(opts Options, onMessage MessageHandler) reconnect.Dialer {
	return func(onLost func(error)) (reconnect.Transport, error) {
		tlsCfg, err := opts.tlsConfig()
		if err != nil {
			return nil, err
		}

		po := paho.NewClientOptions().
			AddBroker(opts.BrokerURL).
			SetClientID(opts.ClientID).
			SetKeepAlive(opts.KeepAlive).
			SetCleanSession(opts.CleanSession).
			SetConnectTimeout(opts.ConnectTimeout).
			SetAutoReconnect(false).
			SetConnectRetry(false).
			SetOrderMatters(false)
		if opts.Username != "" {
			po.SetUsername(opts.Username)
			po.SetPassword(opts.Password)
		}
		if tlsCfg != nil {
			po.SetTLSConfig(tlsCfg)
		}
		if opts.WillTopic != "" {
			po.SetWill(opts.WillTopic, opts.WillPayload, opts.WillQoS, false)
		}
		po.SetConnectionLostHandler(func(_ paho.Client, err error) {
			if onLost != nil {
				onLost(err)
			}
		})
		po.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
			if onMessage != nil {
				onMessage(msg.Topic(), msg.Payload())
			}
		})

		return &transport{client: paho.NewClient(po), onMessage: onMessage}, nil
	}
}

type transport struct {
	client    paho.Client
	onMessage MessageHandler
}

func (t *transport) Connect(ctx context.Context) error {
	return wait(ctx, t.client.Connect())
}

func (t *transport) Disconnect(context.Context) error {
	// quiesce in milliseconds
	t.client.Disconnect(250)
	return nil
}

func (t *transport) Subscribe(ctx context.Context, topic string, qos byte) error {
	return wait(ctx, t.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		if t.onMessage != nil {
			t.onMessage(msg.Topic(), msg.Payload())
		}
	}))
}

func (t *transport) Unsubscribe(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	return wait(ctx, t.client.Unsubscribe(topics...))
}

func (t *transport) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	return wait(ctx, t.client.Publish(topic, qos, retain, payload))
}

func wait(ctx context.Context, tok paho.Token) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultOpTimeout)
		defer cancel()
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("mqtt: %w", ctx.Err())
	}
}
