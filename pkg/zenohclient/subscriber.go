package zenohclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teslashibe/go-walkie/internal/httpc"
)

// maxEventSize bounds a single server-sent event. Camera frames are the
// largest samples.
const maxEventSize = 16 << 20

// Subscriber is a live subscription on a key expression.
type Subscriber struct {
	key     string
	client  *Client
	handler func(Sample)
	cancel  context.CancelFunc
	done    chan struct{}
}

// Key returns the subscribed key expression.
func (s *Subscriber) Key() string {
	return s.key
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscriber) Close() error {
	s.cancel()
	<-s.done
	s.client.removeSubscriber(s)
	return nil
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)

	for {
		err := s.stream(ctx)
		if ctx.Err() != nil {
			return
		}

		s.client.reconnectCount.Add(1)
		s.client.logger.Warn("zenoh subscription dropped, reopening",
			"key", s.key,
			"error", err,
			"retry_in", s.client.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.client.cfg.ReconnectInterval):
		}
	}
}

// stream holds one event-stream request open until it ends.
func (s *Subscriber) stream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.client.url(s.key), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := httpc.CheckResponse(resp); err != nil {
		return err
	}

	return readEvents(resp.Body, func(event string, data []byte) {
		if event == "DELETE" {
			return
		}
		var w wireSample
		if err := json.Unmarshal(data, &w); err != nil {
			s.client.logger.Debug("ignoring malformed sample", "key", s.key, "error", err)
			return
		}
		s.client.messagesReceived.Add(1)
		s.handler(w.decode())
	})
}

// readEvents parses a text/event-stream body and calls fn once per event.
// It returns when r is exhausted.
func readEvents(r io.Reader, fn func(event string, data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var event string
	var data bytes.Buffer

	dispatch := func() {
		if data.Len() > 0 {
			fn(event, bytes.TrimSuffix(data.Bytes(), []byte("\n")))
		}
		event = ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case line[0] == ':':
			// comment / keepalive
		default:
			field, value, _ := cutField(line)
			switch field {
			case "event":
				event = value
			case "data":
				data.WriteString(value)
				data.WriteByte('\n')
			}
		}
	}
	dispatch()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}

func cutField(line string) (field, value string, ok bool) {
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			value = line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return line[:i], value, true
		}
	}
	return line, "", false
}
