package taskqueue

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(&ResumePayload{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// encodePayload serializes a task payload with encoding/gob. Application
// payload types must be registered with gob.Register by the caller.
func encodePayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	iv := v
	if err := gob.NewEncoder(&buf).Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var iv any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&iv); err != nil {
		return nil, err
	}
	return iv, nil
}
