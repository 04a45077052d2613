package taskqueue

import (
	"encoding/json"
	"fmt"
)

// Task payloads travel through persistent queues as JSON, the same shape
// the instance stores use. Numbers come back as float64.

func encodeInput(input map[string]any) ([]byte, error) {
	if input == nil {
		return nil, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode task input: %w", err)
	}
	return data, nil
}

func decodeInput(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("decode task input: %w", err)
	}
	return input, nil
}
