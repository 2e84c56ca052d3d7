package grill

import (
	"encoding/json"
	"fmt"
)

// Parse decodes one broker message. The message must be a JSON object
// carrying at least one of the known sub-documents.
func Parse(raw []byte) (*Record, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	rec := &Record{}
	found := false
	for key, target := range map[string]any{
		"status":   &rec.Status,
		"details":  &rec.Details,
		"limits":   &rec.Limits,
		"settings": &rec.Settings,
		"features": &rec.Features,
	} {
		data, ok := top[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(data, target); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPayload, key, err)
		}
		found = true
	}
	if !found {
		return nil, fmt.Errorf("%w: no known sub-document", ErrMalformedPayload)
	}
	return rec, nil
}
