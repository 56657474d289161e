package rosbridge

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestParseCBORTypedArrays(t *testing.T) {
	f64 := make([]byte, 16)
	binary.LittleEndian.PutUint64(f64[0:], math.Float64bits(1.5))
	binary.LittleEndian.PutUint64(f64[8:], math.Float64bits(-2.25))

	i16 := make([]byte, 4)
	binary.LittleEndian.PutUint16(i16[0:], uint16(0xFFFF)) // -1
	binary.LittleEndian.PutUint16(i16[2:], 300)

	frame := map[string]any{
		"op":    "publish",
		"topic": "/joint_states",
		"msg": map[string]any{
			"position": cbor.Tag{Number: 86, Content: f64},
			"effort":   cbor.Tag{Number: 77, Content: i16},
			"name":     []any{"left_joint1", "left_joint2"},
		},
	}
	data, err := cbor.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}

	in, err := ParseCBOR(data)
	if err != nil {
		t.Fatalf("ParseCBOR() error = %v", err)
	}
	if in.Op != OpPublish || in.Topic != "/joint_states" {
		t.Fatalf("incoming = %+v", in)
	}

	var msg struct {
		Position []float64 `json:"position"`
		Effort   []int     `json:"effort"`
		Name     []string  `json:"name"`
	}
	if err := json.Unmarshal(in.Msg, &msg); err != nil {
		t.Fatalf("msg is not JSON: %v", err)
	}
	if len(msg.Position) != 2 || msg.Position[0] != 1.5 || msg.Position[1] != -2.25 {
		t.Errorf("position = %v", msg.Position)
	}
	if len(msg.Effort) != 2 || msg.Effort[0] != -1 || msg.Effort[1] != 300 {
		t.Errorf("effort = %v", msg.Effort)
	}
	if len(msg.Name) != 2 {
		t.Errorf("name = %v", msg.Name)
	}
}

func TestParseCBORRejectsUnknownTag(t *testing.T) {
	data, _ := cbor.Marshal(map[string]any{
		"op":  "publish",
		"msg": cbor.Tag{Number: 99999, Content: []byte{1}},
	})
	if _, err := ParseCBOR(data); err == nil {
		t.Error("ParseCBOR() accepted unknown tag")
	}
}

func TestParseCBORBadLength(t *testing.T) {
	data, _ := cbor.Marshal(map[string]any{
		"op":  "publish",
		"msg": cbor.Tag{Number: 86, Content: []byte{1, 2, 3}},
	})
	if _, err := ParseCBOR(data); err == nil {
		t.Error("ParseCBOR() accepted truncated float64 array")
	}
}

func TestParseIncoming(t *testing.T) {
	in, err := ParseIncoming([]byte(`{"op":"action_result","id":"g1","values":{"a":1},"status":4,"result":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if in.Status == nil || *in.Status != GoalStatusSucceeded || !in.Succeeded() {
		t.Errorf("incoming = %+v", in)
	}

	in, _ = ParseIncoming([]byte(`{"op":"service_response","id":"s1","values":"no such service","result":false}`))
	if in.Succeeded() || in.ErrorText() != "no such service" {
		t.Errorf("ErrorText() = %q", in.ErrorText())
	}

	in, _ = ParseIncoming([]byte(`{"op":"status","level":"error","msg":"bad topic"}`))
	if in.StatusText() != "bad topic" {
		t.Errorf("StatusText() = %q", in.StatusText())
	}

	if _, err := ParseIncoming([]byte(`{"id":"x"}`)); err == nil {
		t.Error("ParseIncoming() accepted frame without op")
	}
	if _, err := ParseIncoming([]byte(`not json`)); err == nil {
		t.Error("ParseIncoming() accepted garbage")
	}
}

func TestGoalStatusString(t *testing.T) {
	if GoalStatusAborted.String() != "ABORTED" {
		t.Errorf("String() = %q", GoalStatusAborted.String())
	}
	if GoalStatus(42).String() != "GoalStatus(42)" {
		t.Errorf("String() = %q", GoalStatus(42).String())
	}
}
