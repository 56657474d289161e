package zenohclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-walkie/internal/httpc"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned before Connect succeeds.
	ErrNotConnected = errors.New("zenoh: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("zenoh: client closed")
)

// Content types understood by the REST plugin.
const (
	EncodingJSON   = "application/json"
	EncodingBinary = "application/octet-stream"
	EncodingJPEG   = "image/jpeg"
)

// Client provides a high-level interface to a zenoh router for Walkie.
type Client struct {
	cfg    Config
	logger *slog.Logger
	topics *Topics

	http   *http.Client
	stream *http.Client

	mu        sync.RWMutex
	connected bool
	closed    bool
	subs      map[*Subscriber]struct{}

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnectCount   atomic.Int64
}

// New creates a new Zenoh client.
// Call Connect() to check the router is reachable.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "zenoh", "endpoint", cfg.Endpoint),
		topics: NewTopics(cfg.Prefix),
		http:   httpc.NewClient(cfg.RequestTimeout),
		stream: httpc.NewStreamingClient(),
		subs:   make(map[*Subscriber]struct{}),
	}, nil
}

func (c *Client) url(key string) string {
	return strings.TrimRight(c.cfg.Endpoint, "/") + "/" + strings.TrimLeft(key, "/")
}

// Connect probes the router.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed, connected := c.closed, c.connected
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if connected {
		return nil
	}

	c.logger.Info("connecting to Zenoh")

	if _, err := c.get(ctx, c.cfg.ProbeKey); err != nil {
		return fmt.Errorf("zenoh: probe %s: %w", c.cfg.Endpoint, err)
	}

	c.mu.Lock()
	c.connected = !c.closed
	c.mu.Unlock()

	c.logger.Info("connected to Zenoh")
	return nil
}

// ConnectWithRetry connects with automatic retry on failure.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Connect(ctx)
		if err == nil || errors.Is(err, ErrClosed) {
			return err
		}

		attempts++
		c.reconnectCount.Add(1)

		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("max reconnect attempts (%d) reached: %w", c.cfg.MaxReconnectAttempts, err)
		}

		c.logger.Warn("zenoh connection failed, retrying",
			"error", err,
			"attempt", attempts,
			"retry_in", c.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// Topics returns the topics helper.
func (c *Client) Topics() *Topics {
	return c.topics
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && !c.closed
}

func (c *Client) checkConnected() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

// Publish puts data on key with the given encoding.
func (c *Client) Publish(ctx context.Context, key string, data []byte, encoding string) error {
	if err := c.checkConnected(); err != nil {
		return err
	}
	if encoding == "" {
		encoding = EncodingBinary
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(key), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", key, err)
	}
	req.Header.Set("Content-Type", encoding)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", key, err)
	}
	defer resp.Body.Close()
	if err := httpc.CheckResponse(resp); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", key, err)
	}
	io.Copy(io.Discard, resp.Body)

	c.messagesSent.Add(1)
	return nil
}

// PublishJSON encodes v as JSON and publishes it on key.
func (c *Client) PublishJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode sample for %s: %w", key, err)
	}
	return c.Publish(ctx, key, data, EncodingJSON)
}

// Get queries a selector and returns the matching samples.
func (c *Client) Get(ctx context.Context, selector string) ([]Sample, error) {
	if err := c.checkConnected(); err != nil {
		return nil, err
	}
	return c.get(ctx, selector)
}

func (c *Client) get(ctx context.Context, selector string) ([]Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(selector), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", EncodingJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httpc.CheckResponse(resp); err != nil {
		return nil, err
	}

	var wire []wireSample
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	samples := make([]Sample, 0, len(wire))
	for _, w := range wire {
		samples = append(samples, w.decode())
	}
	c.messagesReceived.Add(int64(len(samples)))
	return samples, nil
}

// Subscribe streams samples published on key to handler until the
// returned Subscriber is closed. Dropped streams are reopened after
// ReconnectInterval.
func (c *Client) Subscribe(key string, handler func(Sample)) (*Subscriber, error) {
	if handler == nil {
		return nil, fmt.Errorf("zenoh: nil handler for %s", key)
	}
	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		key:     key,
		client:  c,
		handler: handler,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	go s.run(ctx)

	c.logger.Debug("subscribed to key", "key", key)
	return s, nil
}

// Close stops every subscription. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	subs := make([]*Subscriber, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	c.http.CloseIdleConnections()
	c.stream.CloseIdleConnections()

	c.logger.Info("zenoh client closed")
	return nil
}

func (c *Client) removeSubscriber(s *Subscriber) {
	c.mu.Lock()
	delete(c.subs, s)
	c.mu.Unlock()
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	connected := c.connected && !c.closed
	subs := len(c.subs)
	c.mu.RUnlock()

	return ClientStats{
		Connected:        connected,
		Subscriptions:    subs,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	Subscriptions    int   `json:"subscriptions"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ReconnectCount   int64 `json:"reconnect_count"`
}
