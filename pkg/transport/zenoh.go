package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-walkie/pkg/zenohclient"
)

// Zenoh is a Transport over a zenoh DDS bridge.
//
// Topics map to zenoh keys and carry JSON samples. The bridge has no
// JSON action or service surface, so CallAction and CallService return
// ErrUnsupported.
type Zenoh struct {
	client *zenohclient.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*zenohclient.Subscriber
}

// NewZenoh creates an unconnected zenoh transport.
func NewZenoh(cfg Config, logger *slog.Logger) (*Zenoh, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := zenohclient.New(cfg.zenohConfig(), logger)
	if err != nil {
		return nil, err
	}
	return &Zenoh{
		client: client,
		logger: logger.With("component", "transport", "protocol", ProtocolZenoh),
		subs:   make(map[string]*zenohclient.Subscriber),
	}, nil
}

// Client exposes the underlying zenoh client.
func (t *Zenoh) Client() *zenohclient.Client {
	return t.client
}

// Connect implements Transport.
func (t *Zenoh) Connect(ctx context.Context) error {
	return mapZenohError(t.client.Connect(ctx))
}

// Close implements Transport.
func (t *Zenoh) Close() error {
	t.mu.Lock()
	t.subs = make(map[string]*zenohclient.Subscriber)
	t.mu.Unlock()
	return t.client.Close()
}

// IsConnected implements Transport.
func (t *Zenoh) IsConnected() bool {
	return t.client.IsConnected()
}

// Subscribe implements Transport. Samples that are not JSON are dropped.
func (t *Zenoh) Subscribe(topic, msgType string, handler Handler, opts SubscribeOptions) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("transport: nil handler for %s", topic)
	}

	var limiter *rate.Limiter
	if opts.ThrottleRate > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.ThrottleRate), 1)
	}

	key := t.client.Topics().Key(topic)
	s, err := t.client.Subscribe(key, func(sample zenohclient.Sample) {
		if !sample.IsJSON() && !json.Valid(sample.Value) {
			t.logger.Debug("dropping non-JSON sample", "key", sample.Key, "encoding", sample.Encoding)
			return
		}
		if limiter != nil && !limiter.Allow() {
			return
		}
		handler(json.RawMessage(sample.Value))
	})
	if err != nil {
		return nil, mapZenohError(err)
	}

	sub := &Subscription{
		ID:    fmt.Sprintf("subscribe:%s:%s", topic, uuid.NewString()),
		Topic: topic,
		Type:  msgType,
	}

	t.mu.Lock()
	t.subs[sub.ID] = s
	t.mu.Unlock()

	return sub, nil
}

// Unsubscribe implements Transport.
func (t *Zenoh) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}

	t.mu.Lock()
	s, ok := t.subs[sub.ID]
	delete(t.subs, sub.ID)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// Publish implements Transport. msg is sent as a JSON sample.
func (t *Zenoh) Publish(topic, msgType string, msg any) error {
	key := t.client.Topics().Key(topic)
	return mapZenohError(t.client.PublishJSON(context.Background(), key, msg))
}

// CallAction implements Transport. Actions are not carried over zenoh.
func (t *Zenoh) CallAction(ctx context.Context, name, actionType string, goal any, feedback Handler) (*ActionResult, error) {
	if !t.client.IsConnected() {
		return nil, ErrNotConnected
	}
	return nil, fmt.Errorf("action %s over zenoh: %w", name, ErrUnsupported)
}

// CancelAction implements Transport. No goal is ever in flight.
func (t *Zenoh) CancelAction(ctx context.Context) error {
	return nil
}

// CallService implements Transport. Services are not carried over zenoh.
func (t *Zenoh) CallService(ctx context.Context, name, srvType string, request any) (json.RawMessage, error) {
	if !t.client.IsConnected() {
		return nil, ErrNotConnected
	}
	return nil, fmt.Errorf("service %s over zenoh: %w", name, ErrUnsupported)
}

func mapZenohError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zenohclient.ErrNotConnected):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case errors.Is(err, zenohclient.ErrClosed):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	default:
		return err
	}
}

// Ensure Zenoh implements Transport.
var _ Transport = (*Zenoh)(nil)
