package protocol

import (
	"encoding/json"
	"fmt"
)

// SerializeOp returns the canonical string content of an operation: the JSON
// object {"type":...,"contents":...} with exactly that field order. The same
// serialization is used for wire transmission and for ack comparison, so it
// is the ground truth for pending-state equality.
func SerializeOp(op *RuntimeOp) (string, error) {
	if op == nil {
		return "", fmt.Errorf("cannot serialize nil op")
	}
	data, err := json.Marshal(op)
	if err != nil {
		return "", fmt.Errorf("failed to serialize op: %w", err)
	}
	return string(data), nil
}

// SerializeInbound reconstructs the canonical content of a sequenced message,
// type and contents only, for comparison against the stored pending content.
func SerializeInbound(m *InboundMessage) (string, error) {
	return SerializeOp(&RuntimeOp{Type: m.Type, Contents: m.Contents})
}

// ParseOp parses canonical string content back into structured form. Fields
// holding encoded handles stay in their encoded form; callers rehydrating
// stashed state accept that lossiness.
func ParseOp(content string) (*RuntimeOp, error) {
	var op RuntimeOp
	if err := json.Unmarshal([]byte(content), &op); err != nil {
		return nil, fmt.Errorf("failed to parse op content: %w", err)
	}
	return &op, nil
}

// ScrubContent replaces every leaf value in a JSON document with the name of
// its type, preserving field names and structure. The result is safe to
// attach to errors and telemetry without leaking document content. Input that
// is not valid JSON scrubs to "invalid".
func ScrubContent(content string) string {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return "invalid"
	}
	scrubbed, err := json.Marshal(scrubValue(v))
	if err != nil {
		return "invalid"
	}
	return string(scrubbed)
}

func scrubValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = scrubValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = scrubValue(e)
		}
		return out
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return "null"
	}
}

// FirstMismatch locates the first byte index at which two strings differ and
// returns the differing characters, eliding anything outside printable ASCII
// so that document content cannot leak through single characters. It returns
// -1 when the strings are equal.
func FirstMismatch(a, b string) (index int, aChar, bChar string) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i, safeChar(a[i]), safeChar(b[i])
		}
	}
	if len(a) != len(b) {
		// one string is a strict prefix of the other
		if len(a) > n {
			return n, safeChar(a[n]), ""
		}
		return n, "", safeChar(b[n])
	}
	return -1, "", ""
}

func safeChar(c byte) string {
	if c >= 0x20 && c < 0x7f {
		return string(c)
	}
	return "non-ASCII"
}
