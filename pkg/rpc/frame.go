package rpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	kindCall  = "call"
	kindReply = "reply"
)

// frame is one unit on the wire. Calls carry a method and arguments,
// replies carry the call's id and either a result or an error. A call
// with id 0 expects no reply.
type frame struct {
	ID     uint64
	Kind   string
	Method string
	Args   []any
	Result any
	Error  string
}

func (f *frame) encode() (*structpb.Struct, error) {
	m := map[string]any{
		"id":   float64(f.ID),
		"kind": f.Kind,
	}
	if f.Method != "" {
		m["method"] = f.Method
	}
	if f.Args != nil {
		args, err := normalize(f.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments of %s: %w", f.Method, err)
		}
		m["args"] = args
	}
	if f.Result != nil {
		result, err := normalize(f.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to encode result: %w", err)
		}
		m["result"] = result
	}
	if f.Error != "" {
		m["error"] = f.Error
	}
	return structpb.NewStruct(m)
}

func decodeFrame(s *structpb.Struct) (*frame, error) {
	m := s.AsMap()

	id, ok := m["id"].(float64)
	if !ok || id < 0 {
		return nil, fmt.Errorf("frame without valid id")
	}
	f := &frame{ID: uint64(id)}
	f.Kind, _ = m["kind"].(string)
	f.Method, _ = m["method"].(string)
	f.Error, _ = m["error"].(string)
	f.Result = m["result"]
	if args, ok := m["args"].([]any); ok {
		f.Args = args
	}

	switch f.Kind {
	case kindCall:
		if f.Method == "" {
			return nil, fmt.Errorf("call frame %d without method", f.ID)
		}
	case kindReply:
	default:
		return nil, fmt.Errorf("frame %d has unknown kind %q", f.ID, f.Kind)
	}
	return f, nil
}

// normalize turns arbitrary Go values into the plain JSON shapes structpb
// accepts (maps, slices, strings, float64, bool, nil).
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode copies a generic JSON value into v
func Decode(value any, v any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Args are the positional arguments of an incoming call
type Args []any

// At returns argument i, or nil when absent
func (a Args) At(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// String returns argument i as a string, or "" when absent or not a string
func (a Args) String(i int) string {
	s, _ := a.At(i).(string)
	return s
}

// Bool returns argument i as a bool
func (a Args) Bool(i int) bool {
	b, _ := a.At(i).(bool)
	return b
}

// Decode copies argument i into v
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("missing argument %d", i)
	}
	return Decode(a[i], v)
}
