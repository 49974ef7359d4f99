package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/jittakal/diskreplay/internal/errors"
	"github.com/jittakal/diskreplay/pkg/record"
)

// recordMessage is the wire format of an ingested record:
//
//	{"fields": {"state": [0.1, 0.2], "reward": 1.5, "done": false}}
type recordMessage struct {
	Fields map[string]json.RawMessage `json:"fields"`
}

// Decode parses a message value into a record of the given schema. Numbers
// are converted to each field's dtype; shape checks are left to the write
// path validator.
func Decode(schema record.Schema, value []byte) (record.Record, error) {
	var msg recordMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidMessage, err)
	}
	if len(msg.Fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", errors.ErrInvalidMessage)
	}

	rec := make(record.Record, len(msg.Fields))
	for name, raw := range msg.Fields {
		f, ok := schema.Field(name)
		if !ok {
			return nil, &errors.SchemaError{Field: name, Reason: "unknown field"}
		}

		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", errors.ErrInvalidMessage, name, err)
		}
		converted, err := record.Convert(f, v)
		if err != nil {
			return nil, &errors.SchemaError{Field: name, Reason: err.Error()}
		}
		rec[name] = converted
	}
	return rec, nil
}
