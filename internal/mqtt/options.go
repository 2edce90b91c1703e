// Package mqtt adapts the paho MQTT client to the reconnecting client.
package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/reconnect"
)

const (
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	DefaultOpTimeout      = 10 * time.Second

	MaxBackoffFactor = 8
)

// Options is the connection configuration of one broker session.
type Options struct {
	BrokerURL          string
	ClientID           string
	Username           string
	Password           string
	CAFile             string
	InsecureSkipVerify bool
	TLS                bool
	KeepAlive          time.Duration
	CleanSession       bool
	ConnectTimeout     time.Duration
	WillTopic          string
	WillPayload        string
	WillQoS            byte
	Policy             reconnect.RetryPolicy
}

// FromDefinition converts MQTT service options, filling in defaults. A blank
// client id becomes "switchboard-<uuid>". autoReconnect: false leaves Policy
// nil.
func FromDefinition(o *domain.MQTTOptions) Options {
	opts := Options{
		BrokerURL:          o.BrokerURL,
		ClientID:           o.ClientID,
		Username:           o.Username,
		Password:           o.Password,
		CAFile:             o.CAFile,
		InsecureSkipVerify: o.InsecureSkipVerify,
		TLS:                o.UsesTLS(),
		KeepAlive:          o.KeepAlive.Std(),
		CleanSession:       o.CleanSession,
		ConnectTimeout:     DefaultConnectTimeout,
		WillTopic:          o.WillTopic,
		WillPayload:        o.WillPayload,
		WillQoS:            o.QoS,
	}
	if opts.ClientID == "" {
		opts.ClientID = "switchboard-" + uuid.NewString()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	delay := o.ReconnectDelay.Std()
	if delay == 0 {
		delay = DefaultReconnectDelay
	}
	if o.AutoReconnect == nil || *o.AutoReconnect {
		opts.Policy = retryPolicy(delay, o.ReconnectAttempts)
	}
	return opts
}

// retryPolicy tries once after delay, or backs off from delay up to
// MaxBackoffFactor times it for the given number of attempts.
func retryPolicy(delay time.Duration, attempts int) reconnect.RetryPolicy {
	if attempts <= 1 {
		return reconnect.FixedDelay(delay)
	}
	return reconnect.Jittered{
		Policy:   reconnect.Backoff{Initial: delay, Max: MaxBackoffFactor * delay, MaxAttempts: attempts},
		Fraction: 0.2,
	}
}

func (o Options) tlsConfig() (*tls.Config, error) {
	if !o.TLS && !o.InsecureSkipVerify {
		return nil, nil
	}
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec // opt-in per service
	}
	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read ca file: %v", domain.ErrInvalidConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: ca file %s holds no certificates", domain.ErrInvalidConfig, o.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
