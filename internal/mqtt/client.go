package mqtt

import (
	"context"

	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/reconnect"
)

// Client is a broker session whose subscriptions survive reconnects.
type Client struct {
	opts Options
	dial reconnect.Dialer
	rc   *reconnect.Client
	lost chan error
}

// NewClient prepares a session. Nothing is dialed until Connect.
func NewClient(opts Options, onMessage MessageHandler, log logger.Logger, onReconnect func()) *Client {
	return NewClientWithDialer(opts, NewDialer(opts, onMessage), log, onReconnect)
}

// NewClientWithDialer is NewClient with a custom transport, mostly for tests.
func NewClientWithDialer(opts Options, dial reconnect.Dialer, log logger.Logger, onReconnect func()) *Client {
	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		opts: opts,
		dial: dial,
		lost: make(chan error, 1),
	}
	rcOpts := []reconnect.Option{
		reconnect.WithLogger(log.With(logger.String("broker", opts.BrokerURL))),
		reconnect.OnGiveUp(c.giveUp),
	}
	if onReconnect != nil {
		rcOpts = append(rcOpts, reconnect.OnReconnect(onReconnect))
	}
	c.rc = reconnect.New(rcOpts...)
	return c
}

// Lost receives an error once the session dropped and will not be restored.
func (c *Client) Lost() <-chan error { return c.lost }

func (c *Client) giveUp(err error) {
	select {
	case c.lost <- err:
	default:
	}
}

func (c *Client) Connect(ctx context.Context) error {
	return c.rc.Connect(ctx, c.dial, c.opts.Policy)
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.rc.Disconnect(ctx)
}

func (c *Client) Subscribe(ctx context.Context, qos byte, topics ...string) error {
	return c.rc.Subscribe(ctx, qos, topics...)
}

func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	return c.rc.Unsubscribe(ctx, topics...)
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	return c.rc.Publish(ctx, topic, payload, qos, retain)
}

func (c *Client) Status() reconnect.Status { return c.rc.Status() }

func (c *Client) Subscriptions() []string { return c.rc.Subscriptions() }

func (c *Client) ClientID() string { return c.opts.ClientID }
