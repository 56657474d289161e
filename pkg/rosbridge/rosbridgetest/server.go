// Package rosbridgetest provides an in-process fake rosbridge server for tests.
package rosbridgetest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-walkie/pkg/rosbridge"
)

// Request is an operation received from a client.
type Request struct {
	Op           rosbridge.Op    `json:"op"`
	ID           string          `json:"id"`
	Topic        string          `json:"topic"`
	Type         string          `json:"type"`
	Msg          json.RawMessage `json:"msg"`
	Service      string          `json:"service"`
	Action       string          `json:"action"`
	ActionType   string          `json:"action_type"`
	Args         json.RawMessage `json:"args"`
	ThrottleRate int             `json:"throttle_rate"`
	QueueLength  int             `json:"queue_length"`
	Compression  string          `json:"compression"`
}

// ServiceFunc answers a call_service. ok=false reports a failed call with
// values as the error.
type ServiceFunc func(req Request) (values any, ok bool)

// ActionFunc runs an action goal. ctx is cancelled when the client sends
// cancel_action_goal for this goal.
type ActionFunc func(ctx context.Context, req Request, feedback func(any)) (values any, status rosbridge.GoalStatus)

// Server is a fake rosbridge server.
type Server struct {
	*httptest.Server

	// ServiceFunc answers service calls. Nil echoes args back with ok=true.
	ServiceFunc ServiceFunc
	// ActionFunc runs action goals. Nil succeeds immediately with empty values.
	ActionFunc ActionFunc

	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[*conn]bool
	requests []Request
	notify   chan struct{}
	cancels  map[string]context.CancelFunc
}

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *conn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(kind, data)
}

func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// NewServer starts a fake bridge.
func NewServer() *Server {
	s := &Server{
		conns:   make(map[*conn]bool),
		notify:  make(chan struct{}, 1),
		cancels: make(map[string]context.CancelFunc),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the ws:// URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// Close disconnects every client and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.DropClients()
	s.Server.Close()
}

// DropClients closes every client connection without stopping the server.
func (s *Server) DropClients() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}

	s.mu.Lock()
	s.conns[c] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		s.record(req)
		s.serve(c, req)
	}
}

func (s *Server) record(req Request) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Server) serve(c *conn, req Request) {
	switch req.Op {
	case rosbridge.OpCallService:
		values, ok := any(json.RawMessage(req.Args)), true
		if s.ServiceFunc != nil {
			values, ok = s.ServiceFunc(req)
		}
		c.writeJSON(map[string]any{
			"op":      rosbridge.OpServiceResponse,
			"id":      req.ID,
			"service": req.Service,
			"values":  values,
			"result":  ok,
		})

	case rosbridge.OpSendActionGoal:
		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancels[req.ID] = cancel
		s.mu.Unlock()
		go s.runAction(ctx, c, req)

	case rosbridge.OpCancelActionGoal:
		s.mu.Lock()
		cancel := s.cancels[req.ID]
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

func (s *Server) runAction(ctx context.Context, c *conn, req Request) {
	defer func() {
		s.mu.Lock()
		if cancel := s.cancels[req.ID]; cancel != nil {
			cancel()
			delete(s.cancels, req.ID)
		}
		s.mu.Unlock()
	}()

	feedback := func(v any) {
		c.writeJSON(map[string]any{
			"op":     rosbridge.OpActionFeedback,
			"id":     req.ID,
			"action": req.Action,
			"values": v,
		})
	}

	var values any = map[string]any{}
	status := rosbridge.GoalStatusSucceeded
	if s.ActionFunc != nil {
		values, status = s.ActionFunc(ctx, req, feedback)
	}

	c.writeJSON(map[string]any{
		"op":     rosbridge.OpActionResult,
		"id":     req.ID,
		"action": req.Action,
		"values": values,
		"status": int(status),
		"result": status == rosbridge.GoalStatusSucceeded,
	})
}

// Publish sends a publish operation to every connected client.
func (s *Server) Publish(topic string, msg any) {
	data, _ := json.Marshal(map[string]any{"op": rosbridge.OpPublish, "topic": topic, "msg": msg})
	s.broadcast(websocket.TextMessage, data)
}

// PublishCBOR sends a publish operation as a binary CBOR frame.
func (s *Server) PublishCBOR(topic string, msg any) {
	data, _ := cbor.Marshal(map[string]any{"op": string(rosbridge.OpPublish), "topic": topic, "msg": msg})
	s.broadcast(websocket.BinaryMessage, data)
}

// SendRaw sends an arbitrary text frame to every client.
func (s *Server) SendRaw(frame string) {
	s.broadcast(websocket.TextMessage, []byte(frame))
}

func (s *Server) broadcast(kind int, data []byte) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.write(kind, data)
	}
}

// Requests returns every operation received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// WaitFor blocks until an operation matching op (and topic or target, if
// non-empty) has been received, or timeout elapses.
func (s *Server) WaitFor(op rosbridge.Op, target string, timeout time.Duration) (Request, bool) {
	deadline := time.After(timeout)
	for {
		for _, r := range s.Requests() {
			if r.Op != op {
				continue
			}
			if target == "" || r.Topic == target || r.Service == target || r.Action == target {
				return r, true
			}
		}
		select {
		case <-s.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return Request{}, false
		}
	}
}

// Count returns how many operations of kind op were received.
func (s *Server) Count(op rosbridge.Op) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Op == op {
			n++
		}
	}
	return n
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
