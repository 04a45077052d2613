package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/petrijr/ramify/pkg/api"
)

// Instances and definitions are persisted as JSON documents. JSON keeps the
// stored rows inspectable with ordinary database tooling, and instance
// variables are JSON-shaped maps already.

// EncodeInstance serializes an instance document.
func EncodeInstance(inst *api.WorkflowInstance) ([]byte, error) {
	data, err := json.Marshal(inst)
	if err != nil {
		return nil, fmt.Errorf("encode instance %s: %w", inst.ID, err)
	}
	return data, nil
}

// DecodeInstance deserializes an instance document.
func DecodeInstance(data []byte) (*api.WorkflowInstance, error) {
	var inst api.WorkflowInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	return &inst, nil
}

// CloneInstance deep-copies an instance through the codec. Stores use it
// to keep handed-out instances independent of the stored state.
func CloneInstance(inst *api.WorkflowInstance) (*api.WorkflowInstance, error) {
	data, err := EncodeInstance(inst)
	if err != nil {
		return nil, err
	}
	return DecodeInstance(data)
}

func encodeEvent(ev api.WorkflowEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	return data, nil
}

func decodeEvent(data []byte) (api.WorkflowEvent, error) {
	var ev api.WorkflowEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return api.WorkflowEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// EncodeDefinition serializes a definition document.
func EncodeDefinition(def api.WorkflowDefinition) ([]byte, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode definition %s: %w", def.ID, err)
	}
	return data, nil
}

// DecodeDefinition deserializes a definition document.
func DecodeDefinition(data []byte) (api.WorkflowDefinition, error) {
	var def api.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return api.WorkflowDefinition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}
