// Package wsfeed provides the websocket event feed provider. The feed
// is the agent's primary external event source: it holds a persistent
// websocket to the configured endpoint, reconnecting with capped
// backoff, and buffers inbound messages until the next observation
// collect drains them.
package wsfeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/praxislabs/praxis-agent/internal/config"
	"github.com/praxislabs/praxis-agent/internal/provider"
)

const (
	// eventBufferSize bounds messages held between collects; the
	// oldest are evicted first.
	eventBufferSize = 100

	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second

	handshakeTimeout = 10 * time.Second
)

// Event is one buffered feed message.
type Event struct {
	Body       string
	ReceivedAt time.Time
}

// Provider holds the feed connection and the event buffer.
type Provider struct {
	feedURL string
	token   string
	logger  *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration

	connected atomic.Bool

	mu     sync.Mutex
	events []Event
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider creates a feed provider but does not connect.
func NewProvider(cfg config.FeedConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		feedURL:        cfg.URL,
		token:          cfg.Token,
		logger:         logger,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

func (p *Provider) Name() string { return "feed" }

// Private marks the feed as excluded from general provider fan-out;
// the collector includes it explicitly by name.
func (p *Provider) Private() bool { return true }

// Connected reports whether the websocket is currently up.
func (p *Provider) Connected() bool { return p.connected.Load() }

// Start launches the connect/read/reconnect loop and returns
// immediately. The loop runs until ctx is cancelled.
func (p *Provider) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Provider) run(ctx context.Context) {
	backoff := p.initialBackoff
	for {
		hadSession, err := p.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if hadSession {
			backoff = p.initialBackoff
		}
		p.logger.Warn("feed disconnected, will reconnect",
			"error", err,
			"backoff", backoff.String(),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(p.maxBackoff, 2*backoff)
	}
}

// session dials the feed and reads until the connection drops. The
// first return reports whether a connection was established at all,
// so the caller can reset its backoff.
func (p *Provider) session(ctx context.Context) (bool, error) {
	u, err := url.Parse(p.feedURL)
	if err != nil {
		return false, fmt.Errorf("parse feed URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	header := http.Header{}
	if p.token != "" {
		header.Set("Authorization", "Bearer "+p.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return false, fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	// Unblock the read when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	p.connected.Store(true)
	defer p.connected.Store(false)
	p.logger.Info("feed connected", "url", u.String())

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read feed: %w", err)
		}
		p.buffer(string(msg))
	}
}

// buffer stores one inbound message, evicting the oldest when full.
func (p *Provider) buffer(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) >= eventBufferSize {
		p.events = p.events[1:]
	}
	p.events = append(p.events, Event{Body: body, ReceivedAt: time.Now()})
}

// Get drains the buffered events. An empty result means nothing
// arrived since the previous collect.
func (p *Provider) Get(context.Context) (provider.Result, error) {
	p.mu.Lock()
	events := p.events
	p.events = nil
	p.mu.Unlock()

	if len(events) == 0 {
		return provider.Result{}, nil
	}

	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, e.Body)
	}
	return provider.Result{
		Text: strings.Join(lines, "\n"),
		Data: map[string]any{
			"count":     len(events),
			"connected": p.connected.Load(),
		},
	}, nil
}
