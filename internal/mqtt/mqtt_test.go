package mqtt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/reconnect"
)

func TestFromDefinitionDefaults(t *testing.T) {
	opts := FromDefinition(&domain.MQTTOptions{BrokerURL: "tcp://broker:1883"})

	assert.True(t, strings.HasPrefix(opts.ClientID, "switchboard-"))
	assert.Equal(t, DefaultKeepAlive, opts.KeepAlive)
	assert.Equal(t, reconnect.Fixed{Delay: DefaultReconnectDelay}, opts.Policy)
	assert.False(t, opts.TLS)

	other := FromDefinition(&domain.MQTTOptions{BrokerURL: "tcp://broker:1883"})
	assert.NotEqual(t, opts.ClientID, other.ClientID)
}

func TestFromDefinitionKeepsExplicitValues(t *testing.T) {
	opts := FromDefinition(&domain.MQTTOptions{
		BrokerURL:      "mqtts://broker:8883",
		ClientID:       "panel-1",
		KeepAlive:      domain.Duration(time.Minute),
		ReconnectDelay: domain.Duration(2 * time.Second),
	})

	assert.Equal(t, "panel-1", opts.ClientID)
	assert.Equal(t, time.Minute, opts.KeepAlive)
	assert.Equal(t, reconnect.Fixed{Delay: 2 * time.Second}, opts.Policy)
	assert.True(t, opts.TLS)
}

func TestFromDefinitionBackoffWithAttempts(t *testing.T) {
	opts := FromDefinition(&domain.MQTTOptions{
		BrokerURL:         "tcp://broker:1883",
		ReconnectDelay:    domain.Duration(time.Second),
		ReconnectAttempts: 4,
	})

	j, ok := opts.Policy.(reconnect.Jittered)
	require.True(t, ok, "policy = %T", opts.Policy)
	assert.Equal(t, reconnect.Backoff{Initial: time.Second, Max: 8 * time.Second, MaxAttempts: 4}, j.Policy)

	_, ok = opts.Policy.Next(5)
	assert.False(t, ok)
}

func TestFromDefinitionAutoReconnectOff(t *testing.T) {
	off, on := false, true

	opts := FromDefinition(&domain.MQTTOptions{
		BrokerURL:         "tcp://broker:1883",
		ReconnectAttempts: 4,
		AutoReconnect:     &off,
	})
	assert.Nil(t, opts.Policy)

	opts = FromDefinition(&domain.MQTTOptions{BrokerURL: "tcp://broker:1883", AutoReconnect: &on})
	assert.Equal(t, reconnect.Fixed{Delay: DefaultReconnectDelay}, opts.Policy)
}

func TestTLSConfig(t *testing.T) {
	cfg, err := Options{}.tlsConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = Options{TLS: true, InsecureSkipVerify: true}.tlsConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.InsecureSkipVerify)

	_, err = Options{TLS: true, CAFile: filepath.Join(t.TempDir(), "missing.pem")}.tlsConfig()
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	bogus := filepath.Join(t.TempDir(), "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0o600))
	_, err = Options{TLS: true, CAFile: bogus}.tlsConfig()
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestDialerRejectsBadTLS(t *testing.T) {
	dial := NewDialer(Options{BrokerURL: "ssl://broker:8883", TLS: true, CAFile: "/nonexistent/ca.pem"}, nil)
	_, err := dial(nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

type stubTransport struct {
	subs []string
}

func (s *stubTransport) Connect(context.Context) error    { return nil }
func (s *stubTransport) Disconnect(context.Context) error { return nil }
func (s *stubTransport) Subscribe(_ context.Context, topic string, _ byte) error {
	s.subs = append(s.subs, topic)
	return nil
}
func (s *stubTransport) Unsubscribe(context.Context, ...string) error { return nil }
func (s *stubTransport) Publish(context.Context, string, []byte, byte, bool) error {
	return nil
}

func TestClientUsesReconnectingClient(t *testing.T) {
	ctx := context.Background()
	tr := &stubTransport{}
	dial := func(func(error)) (reconnect.Transport, error) { return tr, nil }

	c := NewClientWithDialer(Options{BrokerURL: "tcp://x:1883", ClientID: "id"}, dial, nil, nil)
	require.ErrorIs(t, c.Publish(ctx, "a", nil, 0, false), domain.ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx, 0, "a/b"))

	assert.Equal(t, reconnect.StatusConnected, c.Status())
	assert.Equal(t, []string{"a/b"}, c.Subscriptions())
	assert.Equal(t, []string{"a/b"}, tr.subs)
	assert.Equal(t, "id", c.ClientID())

	require.NoError(t, c.Disconnect(ctx))
	assert.Empty(t, c.Subscriptions())
}
