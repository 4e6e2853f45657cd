package orbit

import (
	"encoding/json"
	"fmt"
)

// Transform is an atomic, ordered batch of operations applied to the record
// store. All operations apply together or none do.
type Transform struct {
	// ID uniquely names the transform, e.g. in logs and journals.
	ID UUID `json:"id"`
	// Operations apply in order; each sees the cumulative effect of the
	// operations before it in the same transform.
	Operations []Operation `json:"operations"`
	// Options carries caller metadata opaque to the store.
	Options map[string]any `json:"options,omitempty"`
}

// NewTransform builds a transform around the given operations with a freshly
// generated ID.
func NewTransform(operations ...Operation) *Transform {
	return &Transform{
		ID:         NewUUID(),
		Operations: operations,
	}
}

// transformWire mirrors Transform with raw operation payloads for the codec.
type transformWire struct {
	ID         UUID              `json:"id"`
	Operations []json.RawMessage `json:"operations"`
	Options    map[string]any    `json:"options,omitempty"`
}

// MarshalJSON renders the transform in its wire/log shape, tagging every
// operation with its "op" discriminator.
func (t Transform) MarshalJSON() ([]byte, error) {
	w := transformWire{
		ID:         t.ID,
		Operations: make([]json.RawMessage, 0, len(t.Operations)),
		Options:    t.Options,
	}
	for i, op := range t.Operations {
		if op == nil {
			return nil, fmt.Errorf("transform %s: operation %d is nil", t.ID, i)
		}
		body, err := MarshalOperation(op)
		if err != nil {
			return nil, fmt.Errorf("transform %s: operation %d: %w", t.ID, i, err)
		}
		w.Operations = append(w.Operations, body)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire/log shape back into typed operations.
func (t *Transform) UnmarshalJSON(data []byte) error {
	var w transformWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ops := make([]Operation, 0, len(w.Operations))
	for i, raw := range w.Operations {
		op, err := UnmarshalOperation(raw)
		if err != nil {
			return fmt.Errorf("transform %s: operation %d: %w", w.ID, i, err)
		}
		ops = append(ops, op)
	}
	t.ID = w.ID
	t.Operations = ops
	t.Options = w.Options
	return nil
}
