package rosbridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// decMode decodes bridge frames into JSON-compatible Go values.
var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		// Message fields are always strings; map[string]any keeps the
		// decoded tree compatible with encoding/json.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("rosbridge: CBOR decoder initialization failed: " + err.Error())
	}
}

// ParseCBOR decodes a binary frame. The bridge sends these for
// subscriptions created with CBOR compression. The message is converted
// to JSON so handlers see the same bytes regardless of compression.
func ParseCBOR(data []byte) (*Incoming, error) {
	var tree map[string]any
	if err := decMode.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("rosbridge: decode cbor frame: %w", err)
	}

	normalized, err := normalizeCBOR(tree)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("rosbridge: re-encode cbor frame: %w", err)
	}
	return ParseIncoming(raw)
}

// normalizeCBOR rewrites values encoding/json cannot represent:
// RFC 8746 typed arrays become slices of numbers.
func normalizeCBOR(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalizeCBOR(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, child := range t {
			n, err := normalizeCBOR(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case cbor.Tag:
		return decodeTypedArray(t)
	default:
		return v, nil
	}
}

// typedArray describes one RFC 8746 tag.
type typedArray struct {
	size   int
	signed bool
	float  bool
	little bool
}

// RFC 8746 typed array tags used by rosbridge.
var typedArrays = map[uint64]typedArray{
	64: {size: 1},
	65: {size: 2},
	66: {size: 4},
	67: {size: 8},
	68: {size: 1},
	69: {size: 2, little: true},
	70: {size: 4, little: true},
	71: {size: 8, little: true},
	72: {size: 1, signed: true},
	73: {size: 2, signed: true},
	74: {size: 4, signed: true},
	75: {size: 8, signed: true},
	77: {size: 2, signed: true, little: true},
	78: {size: 4, signed: true, little: true},
	79: {size: 8, signed: true, little: true},
	81: {size: 4, float: true},
	82: {size: 8, float: true},
	85: {size: 4, float: true, little: true},
	86: {size: 8, float: true, little: true},
}

func decodeTypedArray(tag cbor.Tag) (any, error) {
	spec, ok := typedArrays[tag.Number]
	if !ok {
		return nil, fmt.Errorf("rosbridge: unsupported cbor tag %d", tag.Number)
	}
	data, ok := tag.Content.([]byte)
	if !ok {
		return nil, fmt.Errorf("rosbridge: cbor tag %d content is %T, want bytes", tag.Number, tag.Content)
	}
	if len(data)%spec.size != 0 {
		return nil, fmt.Errorf("rosbridge: cbor tag %d length %d not a multiple of %d", tag.Number, len(data), spec.size)
	}

	var order binary.ByteOrder = binary.BigEndian
	if spec.little {
		order = binary.LittleEndian
	}

	out := make([]any, 0, len(data)/spec.size)
	for i := 0; i < len(data); i += spec.size {
		chunk := data[i : i+spec.size]
		var bits uint64
		switch spec.size {
		case 1:
			bits = uint64(chunk[0])
		case 2:
			bits = uint64(order.Uint16(chunk))
		case 4:
			bits = uint64(order.Uint32(chunk))
		case 8:
			bits = order.Uint64(chunk)
		}

		switch {
		case spec.float && spec.size == 4:
			out = append(out, float64(math.Float32frombits(uint32(bits))))
		case spec.float:
			out = append(out, math.Float64frombits(bits))
		case spec.signed:
			shift := 64 - 8*spec.size
			out = append(out, int64(bits<<shift)>>shift)
		default:
			out = append(out, bits)
		}
	}
	return out, nil
}
