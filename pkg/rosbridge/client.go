package rosbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("rosbridge: not connected")

	// ErrClosed is delivered to pending calls when the connection drops.
	ErrClosed = errors.New("rosbridge: connection closed")
)

// ServiceError is returned when the bridge reports a failed service call.
type ServiceError struct {
	Service string
	Message string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rosbridge: service %s failed", e.Service)
	}
	return fmt.Sprintf("rosbridge: service %s failed: %s", e.Service, e.Message)
}

// MessageHandler receives a topic message or action feedback as JSON.
type MessageHandler func(msg json.RawMessage)

// SubscribeOptions tunes a subscription on the bridge side.
type SubscribeOptions struct {
	// ThrottleRate is the minimum interval between messages.
	ThrottleRate time.Duration
	// QueueLength is the bridge-side queue size. 0 uses the bridge default.
	QueueLength int
}

type subscription struct {
	id      string
	topic   string
	msgType string
	opts    SubscribeOptions
	handler MessageHandler
}

type serviceReply struct {
	in  *Incoming
	err error
}

// Client is a rosbridge v2 WebSocket client.
// It is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer websocket.Dialer

	mu         sync.RWMutex
	conn       *websocket.Conn
	closed     bool
	subs       map[string]*subscription
	advertised map[string]string
	services   map[string]chan serviceReply
	goals      map[string]*Goal

	writeMu sync.Mutex
	wg      sync.WaitGroup

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnectCount   atomic.Int64
}

// NewClient creates a client. Call Connect to open the WebSocket.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "rosbridge", "url", cfg.URL),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		subs:       make(map[string]*subscription),
		advertised: make(map[string]string),
		services:   make(map[string]chan serviceReply),
		goals:      make(map[string]*Goal),
	}, nil
}

// Connect opens the WebSocket. Subscriptions that survived a dropped
// connection are re-established.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.logger.Debug("connecting to rosbridge")

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("rosbridge: dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.conn = conn
	resubscribe := make([]*subscription, 0, len(c.subs))
	for _, s := range c.subs {
		resubscribe = append(resubscribe, s)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	c.wg.Add(1)
	go c.readLoop(conn, done)
	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(conn, done)
	}

	if len(resubscribe) > 0 {
		c.reconnectCount.Add(1)
		for _, s := range resubscribe {
			if err := c.send(c.subscribeMsg(s)); err != nil {
				c.logger.Warn("resubscribe failed", "topic", s.topic, "error", err)
			}
		}
	}

	c.logger.Info("connected to rosbridge", "resubscribed", len(resubscribe))
	return nil
}

// IsConnected returns true while the WebSocket is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Close closes the connection and fails every pending call. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	var err error
	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	c.logger.Info("rosbridge client closed")
	return err
}

// Subscribe registers handler for messages on topic and returns the
// subscription id used by Unsubscribe.
func (c *Client) Subscribe(topic, msgType string, opts SubscribeOptions, handler MessageHandler) (string, error) {
	if handler == nil {
		return "", fmt.Errorf("rosbridge: nil handler for %s", topic)
	}
	if !c.IsConnected() {
		return "", ErrNotConnected
	}

	s := &subscription{
		id:      fmt.Sprintf("subscribe:%s:%s", topic, uuid.NewString()),
		topic:   topic,
		msgType: msgType,
		opts:    opts,
		handler: handler,
	}

	c.mu.Lock()
	c.subs[s.id] = s
	c.mu.Unlock()

	if err := c.send(c.subscribeMsg(s)); err != nil {
		c.mu.Lock()
		delete(c.subs, s.id)
		c.mu.Unlock()
		return "", fmt.Errorf("rosbridge: subscribe %s: %w", topic, err)
	}

	c.logger.Debug("subscribed", "topic", topic, "type", msgType, "id", s.id)
	return s.id, nil
}

func (c *Client) subscribeMsg(s *subscription) SubscribeMsg {
	msg := SubscribeMsg{
		Op:           OpSubscribe,
		ID:           s.id,
		Topic:        s.topic,
		Type:         s.msgType,
		ThrottleRate: int(s.opts.ThrottleRate / time.Millisecond),
		QueueLength:  s.opts.QueueLength,
	}
	if c.cfg.Compression == CompressionCBOR {
		msg.Compression = CompressionCBOR
	}
	return msg
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (c *Client) Unsubscribe(id string) error {
	c.mu.Lock()
	s, ok := c.subs[id]
	delete(c.subs, id)
	connected := c.conn != nil
	c.mu.Unlock()

	if !ok || !connected {
		return nil
	}
	return c.send(UnsubscribeMsg{Op: OpUnsubscribe, ID: id, Topic: s.topic})
}

// Advertise declares a topic before publishing. Repeated calls with the
// same type are no-ops.
func (c *Client) Advertise(topic, msgType string) error {
	c.mu.RLock()
	known := c.advertised[topic] == msgType
	c.mu.RUnlock()
	if known {
		return nil
	}

	id := fmt.Sprintf("advertise:%s:%s", topic, uuid.NewString())
	if err := c.send(AdvertiseMsg{Op: OpAdvertise, ID: id, Topic: topic, Type: msgType}); err != nil {
		return fmt.Errorf("rosbridge: advertise %s: %w", topic, err)
	}

	c.mu.Lock()
	c.advertised[topic] = msgType
	c.mu.Unlock()
	return nil
}

// Publish sends msg on topic, advertising the topic first if needed.
func (c *Client) Publish(topic, msgType string, msg any) error {
	if err := c.Advertise(topic, msgType); err != nil {
		return err
	}
	if err := c.send(PublishMsg{Op: OpPublish, Topic: topic, Msg: msg}); err != nil {
		return fmt.Errorf("rosbridge: publish %s: %w", topic, err)
	}
	return nil
}

// CallService invokes a service and waits for its response or ctx.
func (c *Client) CallService(ctx context.Context, service, srvType string, args any) (json.RawMessage, error) {
	if args == nil {
		args = struct{}{}
	}
	id := fmt.Sprintf("call_service:%s:%s", service, uuid.NewString())
	reply := make(chan serviceReply, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.services[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.services, id)
		c.mu.Unlock()
	}()

	if err := c.send(CallServiceMsg{Op: OpCallService, ID: id, Service: service, Type: srvType, Args: args}); err != nil {
		return nil, fmt.Errorf("rosbridge: call %s: %w", service, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-reply:
		if r.err != nil {
			return nil, r.err
		}
		if !r.in.Succeeded() {
			return nil, &ServiceError{Service: service, Message: r.in.ErrorText()}
		}
		return r.in.Values, nil
	}
}

// SendActionGoal sends a goal and returns a handle to wait on.
// feedback may be nil.
func (c *Client) SendActionGoal(action, actionType string, args any, feedback MessageHandler) (*Goal, error) {
	g := &Goal{
		ID:       fmt.Sprintf("send_action_goal:%s:%s", action, uuid.NewString()),
		Action:   action,
		feedback: feedback,
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.goals[g.ID] = g
	c.mu.Unlock()

	msg := SendActionGoalMsg{
		Op:         OpSendActionGoal,
		ID:         g.ID,
		Action:     action,
		ActionType: actionType,
		Args:       args,
		Feedback:   true,
	}
	if err := c.send(msg); err != nil {
		c.mu.Lock()
		delete(c.goals, g.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("rosbridge: send goal to %s: %w", action, err)
	}

	c.logger.Debug("action goal sent", "action", action, "id", g.ID)
	return g, nil
}

// CancelActionGoal asks the bridge to cancel a goal. The goal completes
// when the bridge reports its result.
func (c *Client) CancelActionGoal(action, goalID string) error {
	return c.send(CancelActionGoalMsg{Op: OpCancelActionGoal, ID: goalID, Action: action})
}

// ReleaseGoal stops tracking a goal. A result that arrives later is
// dropped. Callers that give up waiting on a goal release it.
func (c *Client) ReleaseGoal(goalID string) {
	c.mu.Lock()
	delete(c.goals, goalID)
	c.mu.Unlock()
}

// send writes one JSON frame.
func (c *Client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.messagesSent.Add(1)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConnection(conn, err)
			return
		}

		var in *Incoming
		if kind == websocket.BinaryMessage {
			in, err = ParseCBOR(data)
		} else {
			in, err = ParseIncoming(data)
		}
		if err != nil {
			c.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}

		c.messagesReceived.Add(1)
		c.dispatch(in)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) dispatch(in *Incoming) {
	switch in.Op {
	case OpPublish:
		c.mu.RLock()
		var handlers []MessageHandler
		for _, s := range c.subs {
			if s.topic == in.Topic {
				handlers = append(handlers, s.handler)
			}
		}
		c.mu.RUnlock()
		for _, h := range handlers {
			h(in.Msg)
		}

	case OpServiceResponse:
		c.mu.Lock()
		reply, ok := c.services[in.ID]
		delete(c.services, in.ID)
		c.mu.Unlock()
		if ok {
			reply <- serviceReply{in: in}
		}

	case OpActionFeedback:
		c.mu.RLock()
		g := c.goals[in.ID]
		c.mu.RUnlock()
		if g != nil && g.feedback != nil {
			g.feedback(in.Values)
		}

	case OpActionResult:
		c.mu.Lock()
		g := c.goals[in.ID]
		delete(c.goals, in.ID)
		c.mu.Unlock()
		if g != nil {
			g.finish(in, nil)
		}

	case OpStatus:
		switch in.Level {
		case "error":
			c.logger.Error("bridge status", "id", in.ID, "msg", in.StatusText())
		case "warning":
			c.logger.Warn("bridge status", "id", in.ID, "msg", in.StatusText())
		default:
			c.logger.Debug("bridge status", "level", in.Level, "id", in.ID, "msg", in.StatusText())
		}

	default:
		c.logger.Debug("unhandled op", "op", in.Op)
	}
}

// dropConnection tears down state tied to conn after a read failure.
func (c *Client) dropConnection(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	intentional := c.closed
	services := c.services
	goals := c.goals
	c.services = make(map[string]chan serviceReply)
	c.goals = make(map[string]*Goal)
	c.advertised = make(map[string]string)
	c.mu.Unlock()

	conn.Close()

	for _, reply := range services {
		reply <- serviceReply{err: ErrClosed}
	}
	for _, g := range goals {
		g.finish(nil, ErrClosed)
	}

	if !intentional {
		c.logger.Warn("rosbridge connection lost", "error", cause,
			"pending_services", len(services), "pending_goals", len(goals))
	}
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	pending := len(c.goals)
	c.mu.RUnlock()
	return ClientStats{
		PendingGoals:     pending,
		Connected:        c.IsConnected(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ReconnectCount   int64 `json:"reconnect_count"`
	PendingGoals     int   `json:"pending_goals"`
}
