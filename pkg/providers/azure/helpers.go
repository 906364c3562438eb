package azure

import (
	"encoding/json"
	"fmt"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// toAzureTags converts plain tags to the pointer map ARM expects.
func toAzureTags(tags map[string]string) map[string]*string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		value := v
		out[k] = &value
	}
	return out
}

// marshalState serializes a handler's post-apply state.
func marshalState(state interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource state: %w", err)
	}
	return raw, nil
}

// decodeConfig unmarshals a config blob into its typed form.
func decodeConfig(raw json.RawMessage, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return engine.NewPermanentError("invalid resource configuration", err).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// resolveInput finds a named output among the inputs of all dependency
// resources. The first match wins; the caller's dependency edges bound
// what can appear here.
func resolveInput(inputs map[string]map[string]string, preferredSource, key string) (string, bool) {
	if vals, ok := inputs[preferredSource]; ok {
		if v, ok := vals[key]; ok && v != "" {
			return v, true
		}
	}
	for _, vals := range inputs {
		if v, ok := vals[key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// requireFields validates that named string fields are non-empty.
func requireFields(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return engine.NewPermanentError(
				fmt.Sprintf("configuration field %s is required", name), nil,
			).WithCode(engine.ErrCodeValidation)
		}
	}
	return nil
}
