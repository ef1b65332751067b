// Package mqtt provides the MQTT event provider: it subscribes to
// configured broker topics and buffers inbound messages until the next
// observation collect drains them. Inbound traffic is rate limited so
// a chatty broker cannot flood a cycle.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/praxislabs/praxis-agent/internal/config"
	"github.com/praxislabs/praxis-agent/internal/provider"
)

const (
	// eventBufferSize bounds messages held between collects; the
	// oldest are evicted first.
	eventBufferSize = 50

	// Inbound rate limit: messages per interval before dropping.
	rateLimit    = 100
	rateInterval = 10 * time.Second
)

// Event is one buffered broker message.
type Event struct {
	Topic      string
	Payload    string
	ReceivedAt time.Time
}

// Provider subscribes to broker topics and exposes the buffered
// messages through the provider interface.
type Provider struct {
	cfg      config.MQTTConfig
	clientID string
	logger   *slog.Logger
	limiter  *messageRateLimiter
	cm       *autopaho.ConnectionManager

	mu     sync.Mutex
	events []Event
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates an MQTT event provider but does not connect.
// clientID should be stable across restarts; see ClientID.
func NewProvider(cfg config.MQTTConfig, clientID string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		cfg:      cfg,
		clientID: clientID,
		logger:   logger,
		limiter:  newMessageRateLimiter(rateLimit, rateInterval, logger),
	}
}

func (p *Provider) Name() string { return "mqtt" }

func (p *Provider) Private() bool { return false }

// Start connects to the broker and subscribes to the configured
// topics on every (re-)connect. It returns once the connection manager
// is running; autopaho retries in the background.
func (p *Provider) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	clientName := p.cfg.ClientName
	if clientName == "" {
		clientName = "praxis"
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.subscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientName + "-" + p.clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.receive(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	go p.limiter.start(ctx)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Stop disconnects from the broker.
func (p *Provider) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	return p.cm.Disconnect(ctx)
}

func (p *Provider) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if len(p.cfg.Topics) == 0 {
		return
	}
	subs := make([]paho.SubscribeOptions, 0, len(p.cfg.Topics))
	for _, t := range p.cfg.Topics {
		subs = append(subs, paho.SubscribeOptions{Topic: t, QoS: 0})
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		p.logger.Warn("mqtt subscribe failed", "topics", p.cfg.Topics, "error", err)
		return
	}
	p.logger.Info("mqtt subscribed", "topics", p.cfg.Topics)
}

// receive buffers one inbound message, dropping it when over the rate
// limit and evicting the oldest event when the buffer is full.
func (p *Provider) receive(topic string, payload []byte) {
	if !p.limiter.allow() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) >= eventBufferSize {
		p.events = p.events[1:]
	}
	p.events = append(p.events, Event{
		Topic:      topic,
		Payload:    string(payload),
		ReceivedAt: time.Now(),
	})
}

// Get drains the buffered events. An empty result means no broker
// traffic arrived since the previous collect.
func (p *Provider) Get(context.Context) (provider.Result, error) {
	p.mu.Lock()
	events := p.events
	p.events = nil
	p.mu.Unlock()

	if len(events) == 0 {
		return provider.Result{}, nil
	}

	lines := make([]string, 0, len(events))
	payloads := make([]map[string]any, 0, len(events))
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("[%s] %s", e.Topic, e.Payload))
		payloads = append(payloads, map[string]any{
			"topic":       e.Topic,
			"payload":     e.Payload,
			"received_at": e.ReceivedAt,
		})
	}
	return provider.Result{
		Text: strings.Join(lines, "\n"),
		Data: map[string]any{
			"events": payloads,
			"count":  len(events),
		},
	}, nil
}
