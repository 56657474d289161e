package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Mock implements Transport for testing.
// Behaviour can be customized via function fields.
type Mock struct {
	// ConnectFunc is called when Connect is invoked.
	// If nil, Connect succeeds.
	ConnectFunc func(ctx context.Context) error

	// CallActionFunc is called when CallAction is invoked on a connected mock.
	// If nil, every action succeeds with an empty result.
	CallActionFunc func(ctx context.Context, name string, goal json.RawMessage, feedback Handler) (*ActionResult, error)

	// CallServiceFunc is called when CallService is invoked on a connected mock.
	// If nil, services return an empty object.
	CallServiceFunc func(ctx context.Context, name string, request json.RawMessage) (json.RawMessage, error)

	// CancelFunc is called when CancelAction is invoked.
	// If nil, returns nil.
	CancelFunc func(ctx context.Context) error

	// PublishErr, when set, is returned by Publish.
	PublishErr error

	mu        sync.Mutex
	connected bool
	closed    bool
	nextID    int
	subs      map[string]*mockSub
	published []MockPublish
	actions   []MockAction
	cancels   int
}

type mockSub struct {
	sub     Subscription
	opts    SubscribeOptions
	handler Handler
}

// MockPublish records one Publish call.
type MockPublish struct {
	Topic string
	Type  string
	Msg   json.RawMessage
	Time  time.Time
}

// MockAction records one CallAction call.
type MockAction struct {
	Name string
	Type string
	Goal json.RawMessage
	Time time.Time
}

// NewMock creates an unconnected mock transport.
func NewMock() *Mock {
	return &Mock{subs: make(map[string]*mockSub)}
}

// MockFactory returns a Factory that always hands out m.
func MockFactory(m *Mock) Factory {
	return func(ctx context.Context, cfg Config, _ *slog.Logger) (Transport, error) {
		if _, err := ParseProtocol(string(cfg.Protocol)); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Connect implements Transport.
func (m *Mock) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.connected = true
	return nil
}

// Close implements Transport.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closed = true
	m.subs = make(map[string]*mockSub)
	return nil
}

// Drop simulates a lost link: the mock reports disconnected but is not
// closed, so Close still has work to do.
func (m *Mock) Drop() {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (m *Mock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// IsConnected implements Transport.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Subscribe implements Transport.
func (m *Mock) Subscribe(topic, msgType string, handler Handler, opts SubscribeOptions) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	m.nextID++
	s := &mockSub{
		sub:     Subscription{ID: fmt.Sprintf("mock:%d", m.nextID), Topic: topic, Type: msgType},
		opts:    opts,
		handler: handler,
	}
	m.subs[s.sub.ID] = s
	sub := s.sub
	return &sub, nil
}

// Unsubscribe implements Transport.
func (m *Mock) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	m.mu.Lock()
	delete(m.subs, sub.ID)
	m.mu.Unlock()
	return nil
}

// Publish implements Transport and records the message.
func (m *Mock) Publish(topic, msgType string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.published = append(m.published, MockPublish{Topic: topic, Type: msgType, Msg: data, Time: time.Now()})
	return nil
}

// CallAction implements Transport and records the goal.
func (m *Mock) CallAction(ctx context.Context, name, actionType string, goal any, feedback Handler) (*ActionResult, error) {
	data, err := json.Marshal(goal)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	m.actions = append(m.actions, MockAction{Name: name, Type: actionType, Goal: data, Time: time.Now()})
	fn := m.CallActionFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, name, data, feedback)
	}
	return &ActionResult{Status: ActionSucceeded, Result: json.RawMessage(`{}`)}, nil
}

// CancelAction implements Transport.
func (m *Mock) CancelAction(ctx context.Context) error {
	m.mu.Lock()
	m.cancels++
	fn := m.CancelFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// CallService implements Transport.
func (m *Mock) CallService(ctx context.Context, name, srvType string, request any) (json.RawMessage, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	if !m.IsConnected() {
		return nil, ErrNotConnected
	}
	if m.CallServiceFunc != nil {
		return m.CallServiceFunc(ctx, name, data)
	}
	return json.RawMessage(`{}`), nil
}

// Emit delivers msg to every subscriber of topic and returns how many
// received it. msg may be a value, a []byte or a json.RawMessage.
func (m *Mock) Emit(topic string, msg any) int {
	var data json.RawMessage
	switch v := msg.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = json.RawMessage(v)
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return 0
		}
	}

	m.mu.Lock()
	var handlers []Handler
	for _, s := range m.subs {
		if s.sub.Topic == topic {
			handlers = append(handlers, s.handler)
		}
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return len(handlers)
}

// Published returns a copy of every recorded publish.
func (m *Mock) Published() []MockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPublish, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedOn returns the recorded publishes on topic.
func (m *Mock) PublishedOn(topic string) []MockPublish {
	var out []MockPublish
	for _, p := range m.Published() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// Actions returns a copy of every recorded action call.
func (m *Mock) Actions() []MockAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockAction, len(m.actions))
	copy(out, m.actions)
	return out
}

// Subscriptions returns the active subscriptions.
func (m *Mock) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s.sub)
	}
	return out
}

// SubscribeOptionsFor returns the options of the first subscription on topic.
func (m *Mock) SubscribeOptionsFor(topic string) (SubscribeOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.sub.Topic == topic {
			return s.opts, true
		}
	}
	return SubscribeOptions{}, false
}

// Cancels returns how many times CancelAction was called.
func (m *Mock) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
	m.actions = nil
	m.cancels = 0
}

// Ensure Mock implements Transport.
var _ Transport = (*Mock)(nil)
