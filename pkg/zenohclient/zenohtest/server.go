// Package zenohtest provides an in-process fake of the zenoh REST plugin.
package zenohtest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type stream struct {
	events chan []byte
	kill   chan struct{}
}

// Put is a sample received from a client.
type Put struct {
	Key      string
	Body     []byte
	Encoding string
}

// Server is a fake zenoh router with the REST plugin.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	puts    []Put
	stored  map[string]Put
	streams map[string][]*stream
	done    chan struct{}
	once    sync.Once

	failProbe atomic.Bool
}

// NewServer starts a fake router.
func NewServer() *Server {
	s := &Server{
		stored:  make(map[string]Put),
		streams: make(map[string][]*stream),
		done:    make(chan struct{}),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// SetFailProbe makes the router admin query fail.
func (s *Server) SetFailProbe(fail bool) {
	s.failProbe.Store(fail)
}

// Close ends every open stream and stops the server.
func (s *Server) Close() {
	s.once.Do(func() { close(s.done) })
	s.Server.CloseClientConnections()
	s.Server.Close()
}

// DropStreams closes every open event stream without stopping the server.
func (s *Server) DropStreams() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string][]*stream)
	s.mu.Unlock()
	for _, list := range streams {
		for _, st := range list {
			close(st.kill)
		}
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		p := Put{Key: key, Body: body, Encoding: r.Header.Get("Content-Type")}
		s.mu.Lock()
		s.puts = append(s.puts, p)
		s.stored[key] = p
		s.mu.Unlock()
		s.Publish(key, body, p.Encoding)
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			s.serveStream(w, r, key)
			return
		}
		if strings.HasPrefix(key, "@/") {
			if s.failProbe.Load() {
				http.Error(w, "router unavailable", http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, `[{"key":"@/0123/router","value":{},"encoding":"application/json"}]`)
			return
		}
		s.mu.Lock()
		p, ok := s.stored[key]
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			fmt.Fprint(w, "[]")
			return
		}
		json.NewEncoder(w).Encode([]json.RawMessage{encodeSample(p)})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, key string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	st := &stream{events: make(chan []byte, 64), kill: make(chan struct{})}
	s.mu.Lock()
	s.streams[key] = append(s.streams[key], st)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		list := s.streams[key]
		for i, other := range list {
			if other == st {
				s.streams[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-st.kill:
			return
		case event := <-st.events:
			w.Write(event)
			flusher.Flush()
		}
	}
}

func encodeSample(p Put) json.RawMessage {
	var value any
	switch {
	case strings.HasPrefix(p.Encoding, "application/json"):
		value = json.RawMessage(p.Body)
	case strings.HasPrefix(p.Encoding, "text/"):
		value = string(p.Body)
	default:
		value = base64.StdEncoding.EncodeToString(p.Body)
	}
	data, _ := json.Marshal(map[string]any{
		"key":       p.Key,
		"value":     value,
		"encoding":  p.Encoding,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	return data
}

// Publish pushes a sample to every stream subscribed to key.
func (s *Server) Publish(key string, body []byte, encoding string) {
	event := fmt.Sprintf("event: PUT\ndata: %s\n\n", encodeSample(Put{Key: key, Body: body, Encoding: encoding}))

	s.mu.Lock()
	list := append([]*stream(nil), s.streams[key]...)
	s.mu.Unlock()

	for _, st := range list {
		select {
		case st.events <- []byte(event):
		default:
		}
	}
}

// Puts returns every sample received from clients.
func (s *Server) Puts() []Put {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Put(nil), s.puts...)
}

// WaitPut waits for a PUT on key.
func (s *Server) WaitPut(key string, timeout time.Duration) (Put, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, p := range s.Puts() {
			if p.Key == key {
				return p, true
			}
		}
		if time.Now().After(deadline) {
			return Put{}, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// WaitStreams waits until at least n streams are open on key.
func (s *Server) WaitStreams(key string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		got := len(s.streams[key])
		s.mu.Unlock()
		if got >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}
