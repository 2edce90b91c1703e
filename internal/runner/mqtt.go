package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
	"github.com/MrSnakeDoc/switchboard/internal/logger"
	"github.com/MrSnakeDoc/switchboard/internal/mqtt"
	"github.com/MrSnakeDoc/switchboard/internal/supervisor"
)

const mqttDisconnectTimeout = 5 * time.Second

func init() { Register(domain.TypeMQTT, buildMQTT) }

// mqttService bridges one broker session and the router. Incoming payloads
// become the service's message; the resolved template and forwarded messages
// are published to publishTopic.
type mqttService struct {
	svc    *Service
	opts   *domain.MQTTOptions
	client *mqtt.Client
}

func buildMQTT(s *Service) (supervisor.Runner, error) {
	opts := s.Def.Options.(*domain.MQTTOptions)
	m := &mqttService{svc: s, opts: opts}

	connOpts := mqtt.FromDefinition(opts)
	onReconnect := func() {
		s.Log().Info("mqtt session restored")
		if s.Metrics != nil {
			s.Metrics.MQTTReconnects.WithLabelValues(s.Name).Inc()
		}
	}
	m.client = mqtt.NewClientWithDialer(connOpts, s.MQTTDial(connOpts, m.onMessage), s.Log(), onReconnect)
	return m, nil
}

func (m *mqttService) onMessage(topic string, payload []byte) {
	m.svc.Log().Debug("mqtt message received", logger.String("topic", topic))
	m.svc.Publish(string(payload))
}

func (m *mqttService) Run(ctx context.Context) error {
	if err := m.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", m.opts.BrokerURL, err)
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), mqttDisconnectTimeout)
		defer cancel()
		if err := m.client.Disconnect(dctx); err != nil {
			m.svc.Log().Warn("mqtt disconnect failed", logger.Error(err))
		}
	}()

	if len(m.opts.SubscribeTopics) > 0 {
		if err := m.client.Subscribe(ctx, m.opts.QoS, m.opts.SubscribeTopics...); err != nil {
			return err
		}
	}

	inbox := m.svc.OpenInbox()
	defer inbox.Close()

	var tick <-chan time.Time
	if m.opts.PublishTopic != "" && m.opts.Template != "" && m.opts.Interval > 0 {
		ticker := time.NewTicker(m.opts.Interval.Std())
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-m.client.Lost():
			return fmt.Errorf("broker %s: %w", m.opts.BrokerURL, err)
		case <-tick:
			payload := m.svc.Resolve(m.opts.Template)
			if m.publish(ctx, payload) {
				m.svc.Publish(payload)
			}
		case d := <-inbox.C():
			m.publish(ctx, d.Message)
		}
	}
}

func (m *mqttService) publish(ctx context.Context, payload string) bool {
	if m.opts.PublishTopic == "" {
		return false
	}
	if err := m.client.Publish(ctx, m.opts.PublishTopic, []byte(payload), m.opts.QoS, m.opts.Retain); err != nil {
		m.svc.IOError("publish", err)
		return false
	}
	return true
}
