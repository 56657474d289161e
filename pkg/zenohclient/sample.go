package zenohclient

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Sample is one value received from the router.
type Sample struct {
	Key       string
	Value     []byte
	Encoding  string
	Timestamp string
}

// IsJSON reports whether the sample carries a JSON document.
func (s Sample) IsJSON() bool {
	return isJSONEncoding(s.Encoding) || json.Valid(s.Value) && len(s.Value) > 0 &&
		(s.Value[0] == '{' || s.Value[0] == '[')
}

// wireSample is the REST plugin's JSON representation of a sample.
type wireSample struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Encoding  string          `json:"encoding"`
	Timestamp string          `json:"timestamp"`
	Time      string          `json:"time"`
}

// decode recovers the payload bytes. The plugin embeds JSON payloads
// as JSON, text payloads as strings and everything else as base64.
func (w wireSample) decode() Sample {
	s := Sample{Key: w.Key, Encoding: w.Encoding, Timestamp: w.Timestamp}
	if s.Timestamp == "" {
		s.Timestamp = w.Time
	}

	raw := bytes.TrimSpace(w.Value)
	if len(raw) == 0 || raw[0] != '"' || isJSONEncoding(w.Encoding) {
		s.Value = raw
		return s
	}

	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		s.Value = raw
		return s
	}
	if isTextEncoding(w.Encoding) {
		s.Value = []byte(str)
		return s
	}
	if decoded, err := base64.StdEncoding.DecodeString(str); err == nil {
		s.Value = decoded
		return s
	}
	s.Value = []byte(str)
	return s
}

func isJSONEncoding(enc string) bool {
	enc = strings.ToLower(enc)
	return strings.HasPrefix(enc, "application/json") ||
		strings.HasPrefix(enc, "text/json") ||
		strings.HasPrefix(enc, "zenoh/json")
}

func isTextEncoding(enc string) bool {
	enc = strings.ToLower(enc)
	return strings.HasPrefix(enc, "text/") || strings.HasPrefix(enc, "zenoh/string")
}
