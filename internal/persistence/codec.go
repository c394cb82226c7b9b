package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/petrijr/cascade/pkg/api"
)

func init() {
	// Dynamic values that commonly travel through Context.Input and step
	// outputs. Application types must be registered by the caller.
	gob.Register(map[string]any{})
	gob.Register(map[string]string{})
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register(&api.StepError{})
}

// EncodeState serializes a workflow state with encoding/gob. Inputs and
// outputs must be gob-encodable; register application types with
// gob.Register.
func EncodeState(st *api.WorkflowState) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeState is the inverse of EncodeState.
func DecodeState(data []byte) (*api.WorkflowState, error) {
	if len(data) == 0 {
		return nil, api.ErrStateNotFound
	}
	var st api.WorkflowState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}
